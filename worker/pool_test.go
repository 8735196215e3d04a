package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkstor/coreplane"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolRunsTasks(t *testing.T) {
	t.Parallel()

	p := NewPool(testLogger(), WithPoolSize(4))
	p.Start()

	var n atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		if err := p.Submit(context.Background(), func() {
			defer wg.Done()
			n.Add(1)
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()

	if got := n.Load(); got != 20 {
		t.Fatalf("ran %d tasks, want 20", got)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	p := NewPool(testLogger(), WithPoolSize(size), WithPoolBacklog(32))
	p.Start()
	defer p.Stop(context.Background())

	var active, peak atomic.Int64
	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Fatalf("peak concurrency %d exceeds pool size %d", got, size)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	t.Parallel()

	p := NewPool(testLogger(), WithPoolSize(1))
	p.Start()
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	err := p.Submit(context.Background(), func() {})
	if !errors.Is(err, coreplane.ErrPoolClosed) {
		t.Fatalf("Submit err = %v, want ErrPoolClosed", err)
	}
}

func TestPoolSubmitHonorsContext(t *testing.T) {
	t.Parallel()

	p := NewPool(testLogger(), WithPoolSize(1), WithPoolBacklog(0))
	p.Start()
	defer p.Stop(context.Background())

	block := make(chan struct{})
	if err := p.Submit(context.Background(), func() { <-block }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Worker is busy and the backlog holds nothing, so this must wait
	// until the context gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit err = %v, want DeadlineExceeded", err)
	}
	close(block)
}

func TestPoolStopDrainsBacklog(t *testing.T) {
	t.Parallel()

	p := NewPool(testLogger(), WithPoolSize(1), WithPoolBacklog(8))
	p.Start()

	var n atomic.Int64
	for range 5 {
		if err := p.Submit(context.Background(), func() {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := n.Load(); got != 5 {
		t.Fatalf("drained %d tasks, want 5", got)
	}
}

func TestProcessRunnerDisabled(t *testing.T) {
	t.Parallel()

	r := NewProcessRunner("", testLogger())
	if r.Enabled() {
		t.Fatal("runner with empty path reports enabled")
	}
	_, err := r.Run(context.Background(), "pool.scrub", nil, nil)
	if !errors.Is(err, coreplane.ErrNoProcessPool) {
		t.Fatalf("Run err = %v, want ErrNoProcessPool", err)
	}
}

func TestProcessRunnerMissingBinary(t *testing.T) {
	t.Parallel()

	r := NewProcessRunner("/nonexistent/helper", testLogger())
	if _, err := r.Run(context.Background(), "pool.scrub", nil, nil); err == nil {
		t.Fatal("expected error for missing helper binary")
	}
}
