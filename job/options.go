package job

import "time"

// LockFunc derives a lock name from the call arguments, so instances
// of the same method serialize per resource instead of globally.
type LockFunc func(args []any) string

// DescribeFunc renders a human description of a call from its
// arguments.
type DescribeFunc func(args []any) string

// Sentinels for Options.LockQueueSize.
const (
	// LockQueueUnbounded lets any number of submissions wait on the
	// lock. This is the default.
	LockQueueUnbounded = 0

	// LockQueueNone disables waiting: a submission while the lock is
	// held coalesces onto the holding job.
	LockQueueNone = -1
)

// Options describes how invocations of a job-wrapped method are
// admitted and run. Declared once per method at registration time.
type Options struct {
	// Lock serializes invocations sharing the same name. LockFn, when
	// set, takes precedence and computes the name per call.
	Lock   string
	LockFn LockFunc

	// LockQueueSize bounds how many invocations may wait on the lock.
	// The zero value (LockQueueUnbounded) queues without limit;
	// LockQueueNone disables waiting so calls while busy coalesce onto
	// the holder; a positive value caps the queue, with further calls
	// coalescing onto its tail.
	LockQueueSize int

	Mode      Mode
	Transient bool
	Abortable bool

	// Pipes names the pipes callers may attach ("input", "output").
	// CheckPipes, on by default, rejects submissions whose declared
	// pipes were not provided.
	PipeNames  []string
	CheckPipes bool
	Pipes      *Pipes

	// Logs allocates a per-job log file the body can write to.
	Logs bool

	Timeout     time.Duration
	Description string
	DescribeFn  DescribeFunc
}

// DefaultOptions returns the options applied before any Option runs.
func DefaultOptions() Options {
	return Options{Mode: ModeLoop, CheckPipes: true}
}

// Option mutates Options.
type Option func(*Options)

// WithLock serializes all invocations under one fixed lock name.
func WithLock(name string) Option {
	return func(o *Options) { o.Lock = name }
}

// WithLockFn derives the lock name from the call arguments.
func WithLockFn(fn LockFunc) Option {
	return func(o *Options) { o.LockFn = fn }
}

// WithLockQueueSize bounds the lock's wait queue. See
// Options.LockQueueSize for the sentinel values.
func WithLockQueueSize(n int) Option {
	return func(o *Options) { o.LockQueueSize = n }
}

// WithMode selects the execution placement.
func WithMode(m Mode) Option {
	return func(o *Options) { o.Mode = m }
}

// WithPipes declares the pipe names callers may attach.
func WithPipes(names ...string) Option {
	return func(o *Options) { o.PipeNames = names }
}

// WithoutPipeCheck lets the method probe pipe readiness itself instead
// of failing fast on submission.
func WithoutPipeCheck() Option {
	return func(o *Options) { o.CheckPipes = false }
}

// AsTransient drops the job from the table as soon as it finishes and
// suppresses its lifecycle events.
func AsTransient() Option {
	return func(o *Options) { o.Transient = true }
}

// AsAbortable allows RequestAbort on the job.
func AsAbortable() Option {
	return func(o *Options) { o.Abortable = true }
}

// WithLogs gives each job a log file under the configured log
// directory.
func WithLogs() Option {
	return func(o *Options) { o.Logs = true }
}

// WithTimeout fails the job if the body runs longer than d.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithDescription sets a fixed human description for the method's
// jobs.
func WithDescription(s string) Option {
	return func(o *Options) { o.Description = s }
}

// WithDescribeFn renders the description from the call arguments.
func WithDescribeFn(fn DescribeFunc) Option {
	return func(o *Options) { o.DescribeFn = fn }
}

// Build applies opts over the defaults.
func Build(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
