package middleware

import (
	"context"
	"time"

	"github.com/arkstor/coreplane/job"
)

// Call describes one dispatched method invocation. Job is nil for
// direct (non-job-wrapped) calls.
type Call struct {
	Method  string
	Args    []any
	Job     *job.Job
	Timeout time.Duration
}

// JobID returns the call's job id, or "" for direct calls.
func (c *Call) JobID() string {
	if c.Job == nil {
		return ""
	}
	return c.Job.ID.String()
}

// Handler is the terminal function that executes method logic.
type Handler func(ctx context.Context) (any, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the call being dispatched, and the next handler.
// Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, c *Call, next Handler) (any, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, c *Call, next Handler) (any, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (any, error) {
				return mw(ctx, c, prev)
			}
		}
		return h(ctx)
	}
}
