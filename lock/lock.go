// Package lock provides process-wide registries of named locks used to
// serialize jobs and methods that must not run concurrently.
//
// Two independent registries share the same string key namespace: a
// [Registry] of cooperative locks whose Acquire suspends at a context
// cancellation point, and a [BlockingRegistry] of plain mutexes for
// worker-thread callers. A cooperative caller and a blocking caller on
// the same key serialize only within their own domain, not with each
// other; this mirrors the two independent lock tables of the original
// design and is a documented limitation, not a bug.
//
// Keys are created on demand and never evicted, so a long-lived process
// accumulates one lock per distinct key ever used. Len and Keys make
// that growth observable.
package lock

import (
	"context"
	"sync"
)

// Mutex is a cooperative lock. Acquire suspends the caller until the
// lock is free or the context is cancelled; cancellation while waiting
// leaves the lock untouched.
type Mutex struct {
	ch chan struct{}
}

// NewMutex creates an unlocked cooperative mutex.
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// Acquire takes the lock, waiting until it is free. Returns the context
// error if ctx is cancelled first.
func (m *Mutex) Acquire(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the lock without waiting. Returns false if held.
func (m *Mutex) TryAcquire() bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the lock. Releasing an unheld lock panics (programming
// error).
func (m *Mutex) Release() {
	select {
	case <-m.ch:
	default:
		panic("lock: release of unheld mutex")
	}
}

// Registry maps string keys to cooperative locks, created lazily and
// never removed. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*Mutex
}

// NewRegistry creates an empty cooperative lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*Mutex)}
}

// Get returns the lock for key, creating it on first reference. The
// creation path is guarded so concurrent callers never observe two lock
// objects for the same key.
func (r *Registry) Get(key string) *Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.locks[key]
	if !ok {
		m = NewMutex()
		r.locks[key] = m
	}
	return m
}

// Len returns the number of distinct keys ever referenced.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Keys returns every key ever referenced, in no particular order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.locks))
	for k := range r.locks {
		keys = append(keys, k)
	}
	return keys
}

// BlockingRegistry maps string keys to plain mutexes for callers running
// on worker threads. It shares the key namespace with [Registry] but its
// locks are independent of the cooperative ones.
type BlockingRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBlockingRegistry creates an empty blocking lock registry.
func NewBlockingRegistry() *BlockingRegistry {
	return &BlockingRegistry{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for key, creating it on first reference.
func (r *BlockingRegistry) Get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// Len returns the number of distinct keys ever referenced.
func (r *BlockingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
