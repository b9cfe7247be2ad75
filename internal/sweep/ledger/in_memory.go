package ledger

import (
	"sync"

	"github.com/G-Research/paramsweep/internal/common/sweepcontext"
)

// InMemory is a Ledger that lives only as long as the process.
type InMemory struct {
	entries map[string]*Entry
	lock    sync.RWMutex
}

func NewInMemory() *InMemory {
	return &InMemory{entries: map[string]*Entry{}}
}

func (l *InMemory) Record(_ *sweepcontext.Context, entry *Entry) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	copied := *entry
	l.entries[entry.Identity] = &copied
	return nil
}

func (l *InMemory) Lookup(_ *sweepcontext.Context, identity string) (*Entry, bool, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	entry, ok := l.entries[identity]
	if !ok {
		return nil, false, nil
	}
	copied := *entry
	return &copied, true, nil
}

func (l *InMemory) List(_ *sweepcontext.Context, label string) ([]*Entry, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	rv := make([]*Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		if label == "" || entry.Label == label {
			copied := *entry
			rv = append(rv, &copied)
		}
	}
	sortEntries(rv)
	return rv, nil
}

func (l *InMemory) Close() error {
	return nil
}
