// Package lock provides the per-cadence mutual exclusion that keeps two ticks
// of the same cadence from submitting concurrently.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when the key is already held by another holder.
var ErrNotAcquired = errors.New("lock: already held")

// Locker hands out exclusive, non-blocking locks keyed by string.
type Locker interface {
	// TryLock acquires key or returns ErrNotAcquired. The returned release
	// function must be called exactly once.
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// Memory is an in-process Locker, enough for a single scheduler instance.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

var _ Locker = (*Memory)(nil)

func (m *Memory) TryLock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, ErrNotAcquired
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}
