// Package lock provides per-key mutual exclusion for sync runs.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when the key is already held
var ErrLocked = errors.New("lock is held")

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker grants exclusive, expiring ownership of a key
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Nop never blocks
type Nop struct{}

func (Nop) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	return func() {}, nil
}

// Memory is an in-process Locker. Expired entries are reclaimed on the next Acquire.
type Memory struct {
	mu    sync.Mutex
	held  map[string]entry
	now   func() time.Time
	token uint64
}

type entry struct {
	token   uint64
	expires time.Time
}

// NewMemory creates an in-process locker
func NewMemory() *Memory {
	return &Memory{held: make(map[string]entry), now: time.Now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return nil, ErrLocked
	}

	m.token++
	e := entry{token: m.token}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.held[key] = e

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// only the current owner may release
			if cur, ok := m.held[key]; ok && cur.token == e.token {
				delete(m.held, key)
			}
		})
	}, nil
}
