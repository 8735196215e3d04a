// Package bunstore implements store.Datastore on SQLite through the
// Bun ORM. Records are stored as JSON documents in a single table,
// one row per record, with ids assigned per namespace. Filtering and
// ordering happen in memory after the namespace is loaded; the local
// configuration database is small enough that pushdown would buy
// nothing.
package bunstore
