// Package ext defines the extension system for the control plane.
// Extensions are notified of lifecycle events (job admitted, completed,
// entry changed, etc.) and can react to them — logging, metrics,
// auditing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobAdmitted is called after the scheduler accepts a submission.
type JobAdmitted interface {
	OnJobAdmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a job body begins executing.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a running job reports progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, p job.Progress) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job finishes with an error.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobAborted is called when a job is aborted before completion.
type JobAborted interface {
	OnJobAborted(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// EntryChanged is called after an entry store mutation commits and its
// post-change hook succeeds. Action is "ADDED", "CHANGED", or
// "REMOVED".
type EntryChanged interface {
	OnEntryChanged(ctx context.Context, namespace, action string, rec coreplane.Record) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
