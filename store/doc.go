// Package store defines the persistence interfaces the entry layer
// builds on.
//
// [Datastore] is the local configuration database: flat records keyed
// by namespace, with filtering, back-reference lookup for dependency
// checks, and no opinion about schema. [ReplicatedBackend] is the
// cluster-replicated key-value store the replicated wrappers gate
// behind health and version checks.
//
// # Available Backends
//
//   - store/memory — in-memory Datastore and ReplicatedBackend for
//     development and testing
//   - store/bun — SQLite-backed Datastore using the Bun ORM
//   - store/redis — Redis-backed ReplicatedBackend
package store
