package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arkstor/coreplane"
)

// Task is one unit of work submitted to the pool.
type Task func()

// Pool runs submitted tasks on a fixed set of goroutines. Thread-mode
// job bodies execute here so a blocking body occupies one slot instead
// of an unbounded goroutine.
type Pool struct {
	size   int
	tasks  chan Task
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the number of worker goroutines.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithPoolBacklog sets how many tasks may queue before Submit blocks.
func WithPoolBacklog(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.tasks = make(chan Task, n)
		}
	}
}

// NewPool creates a pool with the given options. Call Start before
// submitting.
func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		size:   10,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tasks == nil {
		p.tasks = make(chan Task, p.size)
	}
	return p
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Start launches the worker goroutines. It returns immediately and is
// idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.closed {
		return
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("size", p.size))

	for range p.size {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit hands t to the pool, blocking while the backlog is full. It
// returns ErrPoolClosed after Stop, or ctx's error if the caller gives
// up first.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return coreplane.ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the pool and waits for in-flight tasks. Tasks still
// queued are drained and executed. If ctx expires first, Stop returns
// its error and the workers finish in the background.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.running = false
	p.mu.Unlock()

	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		start := time.Now()
		t()
		p.logger.Debug("task finished", slog.Duration("took", time.Since(start)))
	}
}
