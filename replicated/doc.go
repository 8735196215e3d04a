// Package replicated wraps entry semantics around the
// cluster-replicated backend.
//
// Every access is gated on a cached health probe. While the backend
// is unhealthy, reads degrade to the wrapper's defaults so callers
// keep working, and writes fail with UnhealthyBackendError so a
// degraded cluster can never fork state. Payloads carry the writer's
// schema version; reads of a mismatched version also degrade to
// defaults, and writes against one fail with VersionMismatchError
// until a newer node migrates the entry.
package replicated
