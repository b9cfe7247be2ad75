package ledger

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/paramsweep/internal/common/config"
	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/job"
)

// Ledger persists the outcome of every job, so a sweep can be resumed or inspected after the fact.
type Ledger interface {
	// Record inserts or replaces the entry with the same identity.
	Record(ctx *sweepcontext.Context, entry *Entry) error
	// Lookup returns the entry with the given identity, if there is one.
	Lookup(ctx *sweepcontext.Context, identity string) (*Entry, bool, error)
	// List returns all entries with the given label, or all entries if label is empty, oldest first.
	List(ctx *sweepcontext.Context, label string) ([]*Entry, error)
	Close() error
}

type Entry struct {
	Identity   string
	Label      string
	Command    string
	Parameters map[string]string
	Status     job.Status
	// Number of times the job was handed to the scheduler.
	Submissions int
	Result      *float64
	UpdatedAt   time.Time
}

func EntryFromDescriptor(d *job.Descriptor, now time.Time) *Entry {
	d = d.DeepCopy()
	return &Entry{
		Identity:    d.Identity,
		Label:       d.Label,
		Command:     d.Command,
		Parameters:  d.Parameters.Strings(),
		Status:      d.Status,
		Submissions: d.Submissions,
		Result:      d.Result,
		UpdatedAt:   now,
	}
}

// HasResult returns true if the job completed and produced a result, i.e. it never needs to run again.
func (e *Entry) HasResult() bool {
	return e != nil && e.Status == job.Completed && e.Result != nil
}

const (
	TypeNone   = "none"
	TypeSqlite = "sqlite"
	TypeRedis  = "redis"
)

type Config struct {
	Type   string `validate:"omitempty,oneof=none sqlite redis"`
	Sqlite SqliteConfig
	Redis  *config.RedisConfig
	// Redis hash holding the entries.
	RedisKey string
}

type SqliteConfig struct {
	Path string
}

func Open(config Config) (Ledger, error) {
	switch config.Type {
	case "", TypeNone:
		return NewInMemory(), nil
	case TypeSqlite:
		return NewSqlite(config.Sqlite.Path)
	case TypeRedis:
		if config.Redis == nil {
			return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{
				Name:    "Redis",
				Value:   nil,
				Message: "redis ledger requires redis settings",
			})
		}
		return NewRedis(config.Redis.AsOptions(), config.RedisKey), nil
	default:
		return nil, errors.WithStack(&sweeperrors.ErrInvalidArgument{Name: "Type", Value: config.Type})
	}
}

// Results are stored as text so that NaN survives a round trip.
func formatResult(result *float64) string {
	if result == nil {
		return ""
	}
	return strconv.FormatFloat(*result, 'g', -1, 64)
}

func parseResult(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &v, nil
}

func sortEntries(entries []*Entry) {
	slices.SortFunc(entries, func(a, b *Entry) bool {
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.Identity < b.Identity
	})
}
