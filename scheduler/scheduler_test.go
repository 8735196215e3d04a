package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/event"
	"github.com/arkstor/coreplane/ext"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/job"
	"github.com/arkstor/coreplane/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *event.Bus) {
	t.Helper()
	logger := testLogger()
	bus := event.NewBus(logger, 64)
	pool := worker.NewPool(logger, worker.WithPoolSize(4))
	pool.Start()
	t.Cleanup(func() { pool.Stop(context.Background()) })
	s := New(logger, bus, ext.NewRegistry(logger), pool, nil, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, bus
}

func method(name string, handler job.HandlerFunc, opts ...job.Option) *job.Method {
	o := job.Build(opts...)
	return &job.Method{Name: name, Handler: handler, Job: &o}
}

func TestSubmitRunsToSuccess(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	m := method("test.echo", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		return args[0], nil
	})

	j, err := s.Submit(context.Background(), m, []any{"hello"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	result, err := j.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != "hello" {
		t.Fatalf("result = %v, want hello", result)
	}
	if got := j.State(); got != job.StateSuccess {
		t.Fatalf("state = %s, want SUCCESS", got)
	}
	if j.TimeFinished().IsZero() {
		t.Fatal("time_finished not recorded")
	}
}

func TestSubmitRecordsFailure(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	boom := errors.New("disk on fire")
	m := method("test.fail", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		return nil, boom
	})

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := j.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v, want %v", err, boom)
	}
	if got := j.State(); got != job.StateFailed {
		t.Fatalf("state = %s, want FAILED", got)
	}
	if info := j.ErrorInfo(); info == nil || info.Repr != "disk on fire" {
		t.Fatalf("exc_info = %+v", info)
	}
}

func TestLockSerializesFIFO(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)

	var order []int
	var running atomic.Int64
	release := make(chan struct{})
	started := make(chan int, 3)
	m := func(n int) *job.Method {
		return method("test.locked", func(ctx context.Context, j *job.Job, args []any) (any, error) {
			if running.Add(1) > 1 {
				t.Error("two holders of the same lock ran concurrently")
			}
			started <- n
			order = append(order, n)
			<-release
			running.Add(-1)
			return nil, nil
		}, job.WithLock("test_lock"))
	}

	var jobs []*job.Job
	for i := 1; i <= 3; i++ {
		j, err := s.Submit(context.Background(), m(i), nil, nil)
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		jobs = append(jobs, j)
	}
	if jobs[1] == jobs[0] || jobs[2] == jobs[1] {
		t.Fatal("submissions coalesced despite the unbounded default queue")
	}

	// Only the first runs; the rest wait in queue order.
	<-started
	if got := jobs[1].State(); got != job.StateWaiting {
		t.Fatalf("second job state = %s, want WAITING", got)
	}
	close(release)
	for _, j := range jobs {
		if _, err := j.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("execution order = %v, want [1 2 3]", order)
	}
}

func TestFullQueueCoalescesOntoTail(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	m := method("test.busy", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	}, job.WithLock("busy_lock"), job.WithLockQueueSize(job.LockQueueNone))

	first, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	// No wait queue: the second submission attaches to the holder.
	second, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if second != first {
		t.Fatal("full queue did not coalesce onto the running job")
	}
	close(release)
	if result, err := second.Wait(context.Background()); err != nil || result != "done" {
		t.Fatalf("Wait = %v, %v", result, err)
	}
}

func TestQueueSizeOneCoalescesOntoWaiter(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	m := method("disk.wipe", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}, job.WithLock("disk:sda"), job.WithLockQueueSize(1))

	a, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit A: %v", err)
	}
	<-started
	b, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit B: %v", err)
	}
	if b == a {
		t.Fatal("B coalesced while the queue still had room")
	}
	if got := b.State(); got != job.StateWaiting {
		t.Fatalf("B state = %s, want WAITING", got)
	}

	// The queue is full: C is not created, B's id comes back.
	c, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit C: %v", err)
	}
	if c != b {
		t.Fatalf("C = %s, want B's id %s", c.ID, b.ID)
	}

	close(release)
	<-started
	for _, j := range []*job.Job{a, b} {
		if _, err := j.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}

func TestPipePrecheckFailsJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	m := method("test.upload", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		t.Error("body ran despite missing pipe")
		return nil, nil
	}, job.WithPipes("input"))

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := j.Wait(context.Background()); !errors.Is(err, coreplane.ErrPipeNotReady) {
		t.Fatalf("Wait err = %v, want ErrPipeNotReady", err)
	}
	if got := j.State(); got != job.StateFailed {
		t.Fatalf("state = %s, want FAILED", got)
	}
}

func TestPipePrecheckPassesWithAttachedPipe(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	m := method("test.upload", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		defer j.Pipes.Input.R.Close()
		data, err := io.ReadAll(j.Pipes.Input.R)
		return string(data), err
	}, job.WithPipes("input"))

	pipe := job.NewPipe()
	j, err := s.Submit(context.Background(), m, nil, &job.Pipes{Input: pipe})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	go func() {
		pipe.W.Write([]byte("payload"))
		pipe.W.Close()
	}()
	result, err := j.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != "payload" {
		t.Fatalf("result = %v, want payload", result)
	}
}

func TestAbortLoopJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	started := make(chan struct{})
	m := method("test.spin", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, job.AsAbortable())

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := s.Abort(j.ID.String()); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := j.Wait(context.Background()); !errors.Is(err, coreplane.ErrJobAborted) {
		t.Fatalf("Wait err = %v, want ErrJobAborted", err)
	}
	if got := j.State(); got != job.StateAborted {
		t.Fatalf("state = %s, want ABORTED", got)
	}
}

func TestAbortThreadJobDisowns(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	started := make(chan struct{})
	release := make(chan struct{})
	m := method("test.grind", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		close(started)
		<-release
		return nil, nil
	}, job.WithMode(job.ModeThread), job.AsAbortable())

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started
	if err := s.Abort(j.ID.String()); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	// Waiters wake with ErrJobAborted while the body is still running.
	if _, err := j.Wait(context.Background()); !errors.Is(err, coreplane.ErrJobAborted) {
		t.Fatalf("Wait err = %v, want ErrJobAborted", err)
	}
	if got := j.State(); got != job.StateRunning {
		t.Fatalf("state = %s, want RUNNING while disowned body runs", got)
	}
	close(release)

	// The body's eventual return still records its real outcome.
	<-j.Done()
	if got := j.State(); got != job.StateSuccess {
		t.Fatalf("state = %s, want SUCCESS after body returned", got)
	}
}

func TestAbortRequiresAbortable(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	release := make(chan struct{})
	defer close(release)
	m := method("test.stuck", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		<-release
		return nil, nil
	})

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Abort(j.ID.String()); !errors.Is(err, coreplane.ErrNotAbortable) {
		t.Fatalf("Abort err = %v, want ErrNotAbortable", err)
	}
}

func TestTransientJobEvicted(t *testing.T) {
	t.Parallel()

	s, bus := newTestScheduler(t)
	events, cancel := bus.Subscribe(EventJobs)
	defer cancel()

	m := method("test.blip", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		return nil, nil
	}, job.AsTransient())

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := j.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, err := s.Get(j.ID.String()); !errors.Is(err, coreplane.ErrJobNotFound) {
		t.Fatalf("Get after eviction: %v, want ErrJobNotFound", err)
	}

	// The only lifecycle event a transient job produces is REMOVED.
	select {
	case n := <-events:
		if n.Action != event.ActionRemoved {
			t.Fatalf("first event = %s, want REMOVED", n.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no REMOVED event for transient job")
	}
}

func TestProgressPublishesChanged(t *testing.T) {
	t.Parallel()

	s, bus := newTestScheduler(t)
	events, cancel := bus.Subscribe(EventJobs)
	defer cancel()

	m := method("test.steps", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		j.SetProgress(50, "halfway", nil)
		return nil, nil
	})

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := j.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := j.Progress().Percent; got != 50 {
		t.Fatalf("progress = %v, want 50", got)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-events:
			if n.Action != event.ActionChanged {
				continue
			}
			progress, ok := n.Fields["progress"].(coreplane.Record)
			if ok && progress["percent"] == 50.0 {
				return
			}
		case <-deadline:
			t.Fatal("no CHANGED event carrying the progress update")
		}
	}
}

func TestListFiltersSnapshots(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	ok := method("test.ok", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		return nil, nil
	})
	bad := method("test.bad", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		return nil, errors.New("nope")
	})

	for _, m := range []*job.Method{ok, ok, bad} {
		j, err := s.Submit(context.Background(), m, nil, nil)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		j.Wait(context.Background())
	}

	failed, err := s.List([]filter.Filter{filter.F("state", "=", "FAILED")}, filter.Options{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed jobs, want 1", len(failed))
	}
	if failed[0]["method"] != "test.bad" {
		t.Fatalf("failed job method = %v", failed[0]["method"])
	}

	count, err := s.List(nil, filter.Options{Count: true})
	if err != nil {
		t.Fatalf("List count: %v", err)
	}
	if len(count) != 1 {
		t.Fatalf("count result = %v", count)
	}
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	m := method("test.slow", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return nil, nil
		}
	}, job.WithTimeout(20*time.Millisecond))

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := j.Wait(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want DeadlineExceeded", err)
	}
	if got := j.State(); got != job.StateFailed {
		t.Fatalf("state = %s, want FAILED", got)
	}
}

func TestJobLogFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, _ := newTestScheduler(t, WithLogDir(dir))
	m := method("test.noisy", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		io.WriteString(j.LogWriter(), "step one\n")
		return nil, nil
	}, job.WithLogs())

	j, err := s.Submit(context.Background(), m, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := j.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if j.LogsPath == "" {
		t.Fatal("no logs path recorded")
	}
	data, err := os.ReadFile(j.LogsPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "step one\n" {
		t.Fatalf("log contents = %q", data)
	}
}

func TestShutdownRejectsSubmissions(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	m := method("test.late", func(ctx context.Context, j *job.Job, args []any) (any, error) {
		return nil, nil
	})
	if _, err := s.Submit(context.Background(), m, nil, nil); !errors.Is(err, coreplane.ErrSchedulerDown) {
		t.Fatalf("Submit err = %v, want ErrSchedulerDown", err)
	}
}
