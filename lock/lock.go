// Package lock serializes work on one contract across goroutines and, with
// Redis, across server instances.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// ContractKey is the lock key for one contract of a tenant.
func ContractKey(tenantID, contractID string) string {
	return "royalty:lock:contract:" + tenantID + ":" + contractID
}

// Local is an in-process keyed mutex. The ttl is ignored: the lock is held
// until fn returns.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

// WithLock waits for key to be free or ctx to end.
func (l *Local) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	e := l.acquireEntry(key)
	defer l.releaseEntry(key, e)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}

func (l *Local) acquireEntry(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Local) releaseEntry(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
