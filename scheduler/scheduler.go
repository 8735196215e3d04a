package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/event"
	"github.com/arkstor/coreplane/ext"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/id"
	"github.com/arkstor/coreplane/job"
	"github.com/arkstor/coreplane/lock"
	"github.com/arkstor/coreplane/middleware"
	"github.com/arkstor/coreplane/worker"
)

// EventJobs is the bus source job lifecycle changes are announced on.
const EventJobs = "core.get_jobs"

// waiter pairs a queued job with the method descriptor it runs when
// promoted.
type waiter struct {
	j *job.Job
	m *job.Method
}

// lockQueue is the admission state of one lock name: the holding job
// plus the FIFO of jobs waiting for it.
type lockQueue struct {
	holder  *job.Job
	waiting []waiter
}

// tail returns the job a coalesced submission attaches to: the last
// waiter, or the holder when nobody waits.
func (q *lockQueue) tail() *job.Job {
	if n := len(q.waiting); n > 0 {
		return q.waiting[n-1].j
	}
	return q.holder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMiddleware wraps every job body in the given middleware chain.
func WithMiddleware(mw middleware.Middleware) Option {
	return func(s *Scheduler) { s.chain = mw }
}

// WithLogDir sets the directory per-job log files are created in.
// Empty disables job logs even for methods that ask for them.
func WithLogDir(dir string) Option {
	return func(s *Scheduler) { s.logDir = dir }
}

// Scheduler owns the job table and drives every job from admission to
// eviction.
type Scheduler struct {
	logger *slog.Logger
	bus    *event.Bus
	exts   *ext.Registry
	pool   *worker.Pool
	proc   *worker.ProcessRunner
	locks  *lock.Registry
	chain  middleware.Middleware
	logDir string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*job.Job
	order  []*job.Job
	queues map[string]*lockQueue
	closed bool
}

// New creates a scheduler. The worker pool must already be started;
// the scheduler stops neither the pool nor the process runner.
func New(
	logger *slog.Logger,
	bus *event.Bus,
	exts *ext.Registry,
	pool *worker.Pool,
	proc *worker.ProcessRunner,
	opts ...Option,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:  logger,
		bus:     bus,
		exts:    exts,
		pool:    pool,
		proc:    proc,
		locks:   lock.NewRegistry(),
		baseCtx: ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job.Job),
		queues:  make(map[string]*lockQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := bus.Register(EventJobs, "Job lifecycle changes"); err != nil {
		logger.Debug("event source already registered", slog.String("event", EventJobs))
	}
	return s
}

// Submit admits one invocation of m. The returned job is either newly
// created or, when the method's lock queue is full, the queue's tail
// job that this call coalesced onto.
func (s *Scheduler) Submit(ctx context.Context, m *job.Method, args []any, pipes *job.Pipes) (*job.Job, error) {
	if !m.JobWrapped() {
		return nil, fmt.Errorf("%s is not job-wrapped", m.Name)
	}
	opts := *m.Job
	if pipes != nil {
		opts.Pipes = pipes
	}
	if opts.DescribeFn != nil {
		opts.Description = opts.DescribeFn(args)
	}
	lockName := opts.Lock
	if opts.LockFn != nil {
		lockName = opts.LockFn(args)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, coreplane.ErrSchedulerDown
	}

	// A full lock queue coalesces the submission onto the tail job
	// before anything new is created. The default queue size is
	// unbounded; only a declared bound (or LockQueueNone) can fill.
	if lockName != "" && opts.LockQueueSize != job.LockQueueUnbounded {
		if q := s.queues[lockName]; q != nil && q.holder != nil &&
			(opts.LockQueueSize < 0 || len(q.waiting) >= opts.LockQueueSize) {
			tail := q.tail()
			s.mu.Unlock()
			s.logger.Debug("submission coalesced onto queued job",
				slog.String("method", m.Name),
				slog.String("lock", lockName),
				slog.String("job_id", tail.ID.String()),
			)
			return tail, nil
		}
	}

	j := job.New(id.NewJobID(), m.Name, args, opts)
	j.LockName = lockName
	s.jobs[j.ID.String()] = j
	s.order = append(s.order, j)
	s.installProgressFanout(j)

	var startNow bool
	if lockName == "" {
		startNow = true
	} else {
		q := s.queues[lockName]
		if q == nil {
			q = &lockQueue{}
			s.queues[lockName] = q
		}
		if q.holder == nil && s.locks.Get(lockName).TryAcquire() {
			q.holder = j
			startNow = true
		} else {
			q.waiting = append(q.waiting, waiter{j: j, m: m})
		}
	}
	s.mu.Unlock()

	s.announce(event.ActionAdded, j)
	s.exts.EmitJobAdmitted(ctx, j)

	// Declared pipes must be attached before anything runs.
	if opts.CheckPipes && len(opts.PipeNames) > 0 {
		if err := j.Pipes.Check(opts.PipeNames); err != nil {
			s.fail(j, err)
			return j, nil
		}
	}

	if startNow {
		s.place(j, m)
	}
	return j, nil
}

// Get returns the tracked job with the given id.
func (s *Scheduler) Get(jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", jobID, coreplane.ErrJobNotFound)
	}
	return j, nil
}

// List returns snapshots of the tracked jobs, oldest first, with
// filters and opts applied.
func (s *Scheduler) List(filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error) {
	s.mu.Lock()
	snaps := make([]coreplane.Record, 0, len(s.order))
	for _, j := range s.order {
		snaps = append(snaps, j.Snapshot())
	}
	s.mu.Unlock()
	return filter.Apply(snaps, filters, opts)
}

// Wait blocks until the job with the given id finishes and returns its
// result.
func (s *Scheduler) Wait(ctx context.Context, jobID string) (any, error) {
	j, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	return j.Wait(ctx)
}

// Abort requests the job stop. Loop jobs are cancelled and finish
// ABORTED; thread and process jobs are disowned instead, waking their
// waiters while the body runs on unobserved.
func (s *Scheduler) Abort(jobID string) error {
	j, err := s.Get(jobID)
	if err != nil {
		return err
	}
	if !j.Abortable {
		return fmt.Errorf("%s: %w", j.Method, coreplane.ErrNotAbortable)
	}
	if !j.RequestAbort() {
		return nil
	}
	if j.Mode != job.ModeLoop {
		j.Disown()
		s.exts.EmitJobAborted(context.Background(), j)
	}
	return nil
}

// Shutdown stops accepting submissions, cancels every running job's
// context, and waits for in-flight bodies up to ctx's deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}
}

// place hands an admitted job to its execution mode.
func (s *Scheduler) place(j *job.Job, m *job.Method) {
	runCtx, cancel := context.WithCancel(s.baseCtx)
	if !j.MarkRunning(cancel) {
		// Failed the pipe check or finished while queued.
		cancel()
		s.releaseLock(j)
		return
	}
	s.openJobLogs(j, m.Job.Logs)
	s.announce(event.ActionChanged, j)
	s.exts.EmitJobStarted(runCtx, j)

	s.wg.Add(1)
	switch j.Mode {
	case job.ModeThread:
		err := s.pool.Submit(runCtx, func() {
			defer s.wg.Done()
			s.execute(runCtx, j, m)
		})
		if err != nil {
			s.wg.Done()
			s.finish(j, nil, fmt.Errorf("worker pool: %w", err))
		}
	case job.ModeProcess:
		go func() {
			defer s.wg.Done()
			if s.proc == nil {
				s.finish(j, nil, coreplane.ErrNoProcessPool)
				return
			}
			result, err := s.proc.Run(runCtx, j.Method, j.Args, j.LogWriter())
			s.finish(j, result, err)
		}()
	default:
		go func() {
			defer s.wg.Done()
			s.execute(runCtx, j, m)
		}()
	}
}

// execute runs the body through the middleware chain and records the
// outcome.
func (s *Scheduler) execute(ctx context.Context, j *job.Job, m *job.Method) {
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	handler := func(ctx context.Context) (any, error) {
		return m.Handler(ctx, j, j.Args)
	}
	var result any
	var err error
	if s.chain != nil {
		call := &middleware.Call{Method: j.Method, Args: j.Args, Job: j}
		result, err = s.chain(ctx, call, handler)
	} else {
		result, err = handler(ctx)
	}
	s.finish(j, result, err)
}

// finish records the outcome, releases the lock, promotes the next
// waiter, and announces the terminal state.
func (s *Scheduler) finish(j *job.Job, result any, err error) {
	started := j.TimeStarted()
	switch {
	case err == nil:
		j.Finish(job.StateSuccess, result, nil, nil)
	case j.Mode == job.ModeLoop && j.AbortRequested() && errors.Is(err, context.Canceled):
		j.Finish(job.StateAborted, nil, coreplane.ErrJobAborted, nil)
	default:
		j.Finish(job.StateFailed, nil, err, errInfo(err))
	}

	s.releaseLock(j)

	ctx := context.Background()
	switch j.State() {
	case job.StateSuccess:
		s.exts.EmitJobCompleted(ctx, j, time.Since(started))
	case job.StateAborted:
		s.exts.EmitJobAborted(ctx, j)
	default:
		s.exts.EmitJobFailed(ctx, j, j.Err())
	}
	s.announce(event.ActionChanged, j)
	s.evictTransient(j)
}

// fail moves a job that never ran straight to FAILED.
func (s *Scheduler) fail(j *job.Job, err error) {
	j.Finish(job.StateFailed, nil, err, errInfo(err))
	s.releaseLock(j)
	s.exts.EmitJobFailed(context.Background(), j, err)
	s.announce(event.ActionChanged, j)
	s.evictTransient(j)
}

// releaseLock frees j's lock (or removes j from its wait queue) and
// places the next waiter.
func (s *Scheduler) releaseLock(j *job.Job) {
	if j.LockName == "" {
		return
	}
	s.mu.Lock()
	q := s.queues[j.LockName]
	if q == nil {
		s.mu.Unlock()
		return
	}
	var next *waiter
	if q.holder == j {
		s.locks.Get(j.LockName).Release()
		q.holder = nil
		if len(q.waiting) > 0 && !s.closed && s.locks.Get(j.LockName).TryAcquire() {
			w := q.waiting[0]
			q.waiting = q.waiting[1:]
			q.holder = w.j
			next = &w
		}
	} else {
		for i := range q.waiting {
			if q.waiting[i].j == j {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if next != nil {
		s.place(next.j, next.m)
	}
}

// evictTransient drops a finished transient job from the table and
// announces its removal, the only bus event a transient job produces.
func (s *Scheduler) evictTransient(j *job.Job) {
	if !j.Transient {
		return
	}
	s.mu.Lock()
	delete(s.jobs, j.ID.String())
	for i, o := range s.order {
		if o == j {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.bus.Publish(EventJobs, event.ActionRemoved, j.ID.String(), j.Snapshot())
}

func (s *Scheduler) installProgressFanout(j *job.Job) {
	j.OnProgress(func(j *job.Job, p job.Progress) {
		s.announce(event.ActionChanged, j)
		s.exts.EmitJobProgress(context.Background(), j, p)
	})
}

// announce publishes the job snapshot. Transient jobs stay off the bus
// until their removal.
func (s *Scheduler) announce(action event.Action, j *job.Job) {
	if j.Transient {
		return
	}
	s.bus.Publish(EventJobs, action, j.ID.String(), j.Snapshot())
}

func (s *Scheduler) openJobLogs(j *job.Job, wants bool) {
	if s.logDir == "" || !wants {
		return
	}
	if err := os.MkdirAll(s.logDir, 0o700); err != nil {
		s.logger.Warn("cannot create job log dir", slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(s.logDir, j.ID.String()+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		s.logger.Warn("cannot open job log file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	j.LogsPath = path
	j.SetLogSink(f)
}

func errInfo(err error) *job.ErrInfo {
	info := &job.ErrInfo{Repr: err.Error(), Type: fmt.Sprintf("%T", err)}
	var internal *coreplane.InternalError
	if errors.As(err, &internal) {
		info.Type = "InternalError"
		info.Extra = internal.Stack
	}
	return info
}
