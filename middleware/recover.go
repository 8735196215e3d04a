package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/arkstor/coreplane"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to InternalError and logged with a stack
// trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) (result any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("method handler panicked",
					slog.String("method", c.Method),
					slog.String("job_id", c.JobID()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = &coreplane.InternalError{
					Err:   fmt.Errorf("panic in %s: %v", c.Method, r),
					Stack: stack,
				}
			}
		}()
		return next(ctx)
	}
}
