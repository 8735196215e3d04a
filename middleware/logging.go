package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/arkstor/coreplane"
)

// Logging returns middleware that logs call start and completion.
// Expected errors (validation, not-found, dependency conflicts) log at
// Info since they are part of normal client traffic.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) (any, error) {
		logger.Debug("call started",
			slog.String("method", c.Method),
			slog.String("job_id", c.JobID()),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			logger.Info("call completed",
				slog.String("method", c.Method),
				slog.String("job_id", c.JobID()),
				slog.Duration("elapsed", elapsed),
			)
		case coreplane.IsExpected(err):
			logger.Info("call rejected",
				slog.String("method", c.Method),
				slog.String("job_id", c.JobID()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		default:
			logger.Error("call failed",
				slog.String("method", c.Method),
				slog.String("job_id", c.JobID()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		}

		return result, err
	}
}
