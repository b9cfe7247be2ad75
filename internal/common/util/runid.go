package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

var (
	runIdEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	runIdLock    sync.Mutex
)

// NewRunId returns a lower-case ULID for a run started at now. Ids of later runs sort after earlier ones.
func NewRunId(now time.Time) string {
	runIdLock.Lock()
	defer runIdLock.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(now), runIdEntropy).String())
}
