package gateway

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
)

const ArtifactPrefix = "result_sync_"

// Artifacts locates and reads the result files jobs write into the output directory.
// A result file holds the job's fitness as its first line; "nan" is allowed.
type Artifacts struct {
	dir   string
	cache *lru.Cache
}

func NewArtifacts(dir string, cacheSize int) (*Artifacts, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Artifacts{dir: dir, cache: cache}, nil
}

func (a *Artifacts) Path(identity string) string {
	return filepath.Join(a.dir, ArtifactPrefix+identity)
}

func (a *Artifacts) Exists(identity string) (bool, error) {
	if a.cache.Contains(identity) {
		return true, nil
	}
	_, err := os.Stat(a.Path(identity))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.WithStack(&sweeperrors.ErrTransient{Operation: "stat result artifact", Err: err})
}

func (a *Artifacts) Read(identity string) (float64, error) {
	if v, ok := a.cache.Get(identity); ok {
		return v.(float64), nil
	}
	v, err := ReadArtifact(a.Path(identity))
	if err != nil {
		return 0, err
	}
	a.cache.Add(identity, v)
	return v, nil
}

// Write stores a result artifact, e.g. when a job is run in-process or a result is imported.
func (a *Artifacts) Write(identity string, value float64) error {
	path := a.Path(identity)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatFloat(value, 'g', -1, 64)+"\n"), 0o644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.WithStack(err)
	}
	a.cache.Remove(identity)
	return nil
}

// IdentityFromPath returns the job identity encoded in a result artifact file name.
func IdentityFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, ArtifactPrefix) || strings.HasSuffix(base, ".tmp") {
		return "", false
	}
	return strings.TrimPrefix(base, ArtifactPrefix), true
}

func ReadArtifact(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.WithStack(&sweeperrors.ErrNotFound{Type: "result artifact", Value: path})
		}
		return 0, errors.WithStack(&sweeperrors.ErrTransient{Operation: "open result artifact", Err: err})
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, errors.WithStack(&sweeperrors.ErrTransient{Operation: "read result artifact", Err: err})
		}
		return 0, errors.WithStack(&sweeperrors.ErrInvalidArgument{Name: "result artifact", Value: path, Message: "empty"})
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return 0, errors.WithStack(&sweeperrors.ErrInvalidArgument{Name: "result artifact", Value: path, Message: "first line is blank"})
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, errors.WithStack(&sweeperrors.ErrInvalidArgument{Name: "result artifact", Value: path, Message: err.Error()})
	}
	return v, nil
}
