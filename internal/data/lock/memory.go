package lock

import (
	"sync"

	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

// MemoryLocker is a keyed mutex for single-process deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*entry)}
}

func (l *MemoryLocker) Acquire(dbc dbctx.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	// sync.Mutex cannot be abandoned mid-wait, so ctx is checked on both sides.
	if dbc.Ctx != nil {
		if err := dbc.Ctx.Err(); err != nil {
			l.unref(key, e)
			return nil, err
		}
	}
	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.unref(key, e)
		})
	}, nil
}

func (l *MemoryLocker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
