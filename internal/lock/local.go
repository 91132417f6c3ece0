// Package lock provides per-stage mutual exclusion, either within one
// process or across processes through Redis.
package lock

import (
	"context"
	"sync"

	"github.com/masahif/jobforge/internal/jobs"
)

// Local is an in-process stage lock.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an empty in-process lock table.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// TryLock acquires name without blocking. It returns jobs.ErrStageBusy if
// name is already held.
func (l *Local) TryLock(_ context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, jobs.ErrStageBusy
	}
	l.held[name] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
