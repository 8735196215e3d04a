// Package ext defines the extension system for the control plane.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobAdmitted] — job was accepted by the scheduler
//   - [JobStarted] — the job body began executing
//   - [JobProgress] — the job reported a progress update
//   - [JobCompleted] — job finished successfully
//   - [JobFailed] — job finished with an error
//   - [JobAborted] — job was aborted before completion
//
// # Other Hooks
//
//   - [EntryChanged] — an entry store mutation committed
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
