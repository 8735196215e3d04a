package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for coreplane metrics.
const meterName = "github.com/arkstor/coreplane"

// Metrics returns middleware that records per-method execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - coreplane.call.duration (Float64Histogram): execution time in
//     seconds, with attributes: method, kind ("job" or "direct"),
//     status ("ok" or "error")
//   - coreplane.call.total (Int64Counter): total dispatches, same
//     attributes
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided
// meter. This variant allows injecting a specific MeterProvider for
// testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time. On
	// error the OTel API returns noop instruments, so the middleware
	// degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"coreplane.call.duration",
		metric.WithDescription("Duration of method execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	total, tErr := meter.Int64Counter(
		"coreplane.call.total",
		metric.WithDescription("Total number of method dispatches"),
		metric.WithUnit("{call}"),
	)
	_ = tErr

	return func(ctx context.Context, c *Call, next Handler) (any, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		kind := "direct"
		if c.Job != nil {
			kind = "job"
		}

		attrs := metric.WithAttributes(
			attribute.String("method", c.Method),
			attribute.String("kind", kind),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		total.Add(ctx, 1, attrs)

		return result, err
	}
}
