package ledger

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/sweep/job"
)

const DefaultRedisKey = "sweep:jobs"

// Redis is a Ledger keeping every entry as a field of a single Redis hash, keyed by identity.
type Redis struct {
	db  redis.UniversalClient
	key string
}

type redisEntry struct {
	Identity    string            `json:"identity"`
	Label       string            `json:"label"`
	Command     string            `json:"command"`
	Parameters  map[string]string `json:"parameters"`
	Status      string            `json:"status"`
	Submissions int               `json:"submissions"`
	Result      string            `json:"result,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func NewRedis(options *redis.Options, key string) *Redis {
	return NewRedisFromClient(redis.NewClient(options), key)
}

func NewRedisFromClient(db redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{db: db, key: key}
}

func (r *Redis) Record(_ *sweepcontext.Context, entry *Entry) error {
	data, err := json.Marshal(redisEntry{
		Identity:    entry.Identity,
		Label:       entry.Label,
		Command:     entry.Command,
		Parameters:  entry.Parameters,
		Status:      entry.Status.String(),
		Submissions: entry.Submissions,
		Result:      formatResult(entry.Result),
		UpdatedAt:   entry.UpdatedAt,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(r.db.HSet(r.key, entry.Identity, data).Err())
}

func (r *Redis) Lookup(_ *sweepcontext.Context, identity string) (*Entry, bool, error) {
	data, err := r.db.HGet(r.key, identity).Result()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.WithStack(err)
	}
	entry, err := decodeRedisEntry(data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (r *Redis) List(_ *sweepcontext.Context, label string) ([]*Entry, error) {
	result, err := r.db.HGetAll(r.key).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rv := make([]*Entry, 0, len(result))
	for _, data := range result {
		entry, err := decodeRedisEntry(data)
		if err != nil {
			return nil, err
		}
		if label == "" || entry.Label == label {
			rv = append(rv, entry)
		}
	}
	sortEntries(rv)
	return rv, nil
}

func (r *Redis) Close() error {
	return errors.WithStack(r.db.Close())
}

func decodeRedisEntry(data string) (*Entry, error) {
	var e redisEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, errors.WithStack(err)
	}
	status, err := job.ParseStatus(e.Status)
	if err != nil {
		return nil, err
	}
	result, err := parseResult(e.Result)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Identity:    e.Identity,
		Label:       e.Label,
		Command:     e.Command,
		Parameters:  e.Parameters,
		Status:      status,
		Submissions: e.Submissions,
		Result:      result,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}
