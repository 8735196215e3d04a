package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for coreplane tracing.
const tracerName = "github.com/arkstor/coreplane"

// Tracing returns middleware that wraps call execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include coreplane.method and, for job-wrapped
// calls, coreplane.job.id and coreplane.job.mode. On error the span
// status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c *Call, next Handler) (any, error) {
		attrs := []attribute.KeyValue{
			attribute.String("coreplane.method", c.Method),
		}
		if c.Job != nil {
			attrs = append(attrs,
				attribute.String("coreplane.job.id", c.Job.ID.String()),
				attribute.String("coreplane.job.mode", string(c.Job.Mode)),
			)
		}

		ctx, span := tracer.Start(ctx, "coreplane.call",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
