// Package middleware provides composable middleware for method
// dispatch.
//
// A [Middleware] wraps a method handler. Middleware are composed into
// a chain using [Chain] and applied to every call the engine
// dispatches, job-wrapped or direct. They are applied right-to-left:
// the first middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs method name, job id, duration, and outcome
//   - [Recover] — catches panics and converts them to internal errors
//   - [Timeout] — cancels the call context after the method's deadline
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-method duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
