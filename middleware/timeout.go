package middleware

import (
	"context"
	"log/slog"
)

// Timeout returns middleware that enforces a per-call execution
// deadline. If the call has a non-zero Timeout, a context.WithTimeout
// wraps the handler; when the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) (any, error) {
		if c.Timeout > 0 {
			logger.Debug("call deadline set",
				slog.String("method", c.Method),
				slog.Duration("timeout", c.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
