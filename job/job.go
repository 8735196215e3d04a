package job

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/id"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting State = "WAITING"
	StateRunning State = "RUNNING"
	StateSuccess State = "SUCCESS"
	StateFailed  State = "FAILED"
	StateAborted State = "ABORTED"
)

// Terminal reports whether s is one of the three final states.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateAborted:
		return true
	}
	return false
}

// Mode selects where a job body runs.
type Mode string

const (
	// ModeLoop runs the body on a goroutine sharing the engine's
	// context tree. Only loop jobs honor cooperative abort.
	ModeLoop Mode = "loop"

	// ModeThread runs the body on the bounded worker pool, for
	// blocking or CPU-heavy bodies that must not stall the engine.
	ModeThread Mode = "thread"

	// ModeProcess runs the body in a subprocess via the process
	// runner.
	ModeProcess Mode = "process"
)

// Progress is the externally visible completion estimate of a running
// job.
type Progress struct {
	Percent     float64 `json:"percent"`
	Description string  `json:"description"`
	Extra       any     `json:"extra,omitempty"`
}

// ErrInfo carries structured failure detail alongside the flat error
// string, for clients that want more than a message.
type ErrInfo struct {
	Repr  string `json:"repr"`
	Type  string `json:"type,omitempty"`
	Extra any    `json:"extra,omitempty"`
}

// HandlerFunc is a method body. Job-wrapped methods receive their Job
// so they can report progress and use pipes; direct methods get a nil
// Job.
type HandlerFunc func(ctx context.Context, j *Job, args []any) (any, error)

// ProgressFunc observes progress updates on a single job.
type ProgressFunc func(j *Job, p Progress)

// Job is one tracked invocation of a job-wrapped method. The exported
// fields are fixed at creation; everything behind the mutex changes as
// the scheduler drives the state machine.
type Job struct {
	ID          id.JobID
	Method      string
	Args        []any
	LockName    string
	Mode        Mode
	Transient   bool
	Abortable   bool
	Pipes       *Pipes
	CheckPipes  bool
	Description string
	LogsPath    string
	Timeout     time.Duration
	TimeCreated time.Time

	mu           sync.Mutex
	state        State
	progress     Progress
	result       any
	err          error
	errInfo      *ErrInfo
	timeStarted  time.Time
	timeFinished time.Time
	cancel       context.CancelFunc
	abortReq     bool
	logSink      io.WriteCloser
	onProgress   ProgressFunc

	done     chan struct{}
	disowned chan struct{}
	disown   sync.Once
}

// New builds a WAITING job for method with the given options applied.
// The scheduler is the only intended caller.
func New(jobID id.JobID, method string, args []any, opts Options) *Job {
	j := &Job{
		ID:          jobID,
		Method:      method,
		Args:        args,
		Mode:        opts.Mode,
		Transient:   opts.Transient,
		Abortable:   opts.Abortable,
		Pipes:       opts.Pipes,
		CheckPipes:  opts.CheckPipes,
		Description: opts.Description,
		Timeout:     opts.Timeout,
		TimeCreated: time.Now().UTC(),
		state:       StateWaiting,
		done:        make(chan struct{}),
		disowned:    make(chan struct{}),
	}
	if j.Mode == "" {
		j.Mode = ModeLoop
	}
	if j.Pipes == nil {
		j.Pipes = &Pipes{}
	}
	return j
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns the last reported progress.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// SetProgress records a progress update and notifies the observer, if
// any. Percent is clamped to [0, 100]. Method bodies call this; it has
// no effect once the job is terminal.
func (j *Job) SetProgress(percent float64, description string, extra any) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.progress = Progress{Percent: percent, Description: description, Extra: extra}
	fn := j.onProgress
	j.mu.Unlock()
	if fn != nil {
		fn(j, Progress{Percent: percent, Description: description, Extra: extra})
	}
}

// OnProgress installs the progress observer. The scheduler sets this
// once before the job starts.
func (j *Job) OnProgress(fn ProgressFunc) {
	j.mu.Lock()
	j.onProgress = fn
	j.mu.Unlock()
}

// Result returns the value produced by a successful body.
func (j *Job) Result() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err returns the failure recorded on a FAILED or ABORTED job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// ErrInfo returns structured failure detail, if recorded.
func (j *Job) ErrorInfo() *ErrInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errInfo
}

// TimeStarted reports when the job entered RUNNING; zero if it never
// ran.
func (j *Job) TimeStarted() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.timeStarted
}

// TimeFinished reports when the job reached a terminal state.
func (j *Job) TimeFinished() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.timeFinished
}

// MarkRunning transitions WAITING -> RUNNING and stores the cancel
// function used for cooperative abort. It reports false if the job was
// already past WAITING.
func (j *Job) MarkRunning(cancel context.CancelFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateWaiting {
		return false
	}
	j.state = StateRunning
	j.timeStarted = time.Now().UTC()
	j.cancel = cancel
	return true
}

// Finish moves the job to a terminal state exactly once, recording the
// outcome and waking every Wait. Later calls are ignored, so a body
// returning after an abort cannot overwrite ABORTED.
func (j *Job) Finish(state State, result any, err error, info *ErrInfo) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = state
	j.result = result
	j.err = err
	j.errInfo = info
	j.timeFinished = time.Now().UTC()
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	sink := j.logSink
	j.logSink = nil
	j.mu.Unlock()
	if sink != nil {
		sink.Close()
	}
	close(j.done)
}

// RequestAbort asks the job to stop. Loop jobs get their context
// canceled and will finish ABORTED; for thread and process jobs the
// runner is merely disowned, since the body cannot be interrupted.
// It reports whether an abort was initiated.
func (j *Job) RequestAbort() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.Abortable || j.state.Terminal() || j.abortReq {
		return false
	}
	j.abortReq = true
	if j.Mode == ModeLoop && j.cancel != nil {
		j.cancel()
	}
	return true
}

// AbortRequested reports whether RequestAbort succeeded on this job.
func (j *Job) AbortRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.abortReq
}

// Disown detaches waiters from a job whose body cannot be stopped.
// Every pending and future Wait returns ErrJobAborted, while the job
// record itself stays RUNNING until the body eventually returns.
func (j *Job) Disown() {
	j.disown.Do(func() { close(j.disowned) })
}

// Done returns a channel closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes, is disowned, or ctx ends. On
// SUCCESS it returns the body's result; on FAILED the recorded error;
// on ABORTED or disown, ErrJobAborted.
func (j *Job) Wait(ctx context.Context) (any, error) {
	select {
	case <-j.done:
	case <-j.disowned:
		return nil, coreplane.ErrJobAborted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StateSuccess:
		return j.result, nil
	case StateAborted:
		return nil, coreplane.ErrJobAborted
	default:
		return nil, j.err
	}
}

// SetLogSink attaches the writer receiving the body's log output. The
// sink is closed when the job finishes.
func (j *Job) SetLogSink(w io.WriteCloser) {
	j.mu.Lock()
	j.logSink = w
	j.mu.Unlock()
}

// LogWriter returns the attached log sink, or nil.
func (j *Job) LogWriter() io.Writer {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logSink == nil {
		return nil
	}
	return j.logSink
}

// Snapshot renders the job as a flat record for listing and events.
func (j *Job) Snapshot() coreplane.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := coreplane.Record{
		"id":          j.ID.String(),
		"method":      j.Method,
		"arguments":   j.Args,
		"description": j.Description,
		"transient":   j.Transient,
		"abortable":   j.Abortable,
		"state":       string(j.state),
		"progress": coreplane.Record{
			"percent":     j.progress.Percent,
			"description": j.progress.Description,
			"extra":       j.progress.Extra,
		},
		"result":        j.result,
		"error":         "",
		"exc_info":      nil,
		"logs_path":     j.LogsPath,
		"time_created":  j.TimeCreated,
		"time_started":  nil,
		"time_finished": nil,
	}
	if j.err != nil {
		rec["error"] = j.err.Error()
	}
	if j.errInfo != nil {
		rec["exc_info"] = coreplane.Record{
			"repr":  j.errInfo.Repr,
			"type":  j.errInfo.Type,
			"extra": j.errInfo.Extra,
		}
	}
	if !j.timeStarted.IsZero() {
		rec["time_started"] = j.timeStarted
	}
	if !j.timeFinished.IsZero() {
		rec["time_finished"] = j.timeFinished
	}
	return rec
}
