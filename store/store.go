package store

import (
	"context"
	"encoding/json"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/filter"
)

// Backref names a foreign-key style reference from another namespace
// into this one. The entry layer registers them so deletions can
// refuse while dependents exist.
type Backref struct {
	// Datastore is the referencing namespace.
	Datastore string
	// Service is the entry store exposing that namespace, if any.
	Service string
	// Field is the column in the referencing namespace holding the
	// referenced record's key.
	Field string
}

// Datastore is the local configuration database. Records are flat
// maps keyed per namespace; the primary key field is "id".
type Datastore interface {
	// Query returns the records of namespace matching filters, with
	// opts applied (ordering, pagination, projection).
	Query(ctx context.Context, namespace string, filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error)

	// QueryOne returns exactly one matching record, or NotFoundError.
	QueryOne(ctx context.Context, namespace string, filters []filter.Filter) (coreplane.Record, error)

	// QueryCount returns the number of matching records.
	QueryCount(ctx context.Context, namespace string, filters []filter.Filter) (int, error)

	// Insert stores rec and returns its assigned id.
	Insert(ctx context.Context, namespace string, rec coreplane.Record) (any, error)

	// Update merges rec into the record with the given id.
	Update(ctx context.Context, namespace string, pk any, rec coreplane.Record) error

	// Delete removes the record with the given id.
	Delete(ctx context.Context, namespace string, pk any) error

	// GetBackrefs returns the records in other namespaces that
	// reference pk of namespace, grouped by the registered backrefs.
	GetBackrefs(ctx context.Context, namespace string, pk any) ([]coreplane.Dependent, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backing connection.
	Close() error
}

// Payload is the versioned envelope stored in the replicated backend.
// Version is the writer's schema version; Data the opaque entry body.
type Payload struct {
	Version coreplane.Version `json:"version"`
	Data    json.RawMessage   `json:"data"`
}

// ReplicatedBackend is the cluster-replicated key-value store. Health
// reflects whether this node currently considers replication usable;
// wrappers gate every access on it.
type ReplicatedBackend interface {
	// Healthy probes the backend. Implementations should answer
	// quickly; callers cache the result.
	Healthy(ctx context.Context) bool

	// Get returns the payload at key, or NotFoundError.
	Get(ctx context.Context, key string) (*Payload, error)

	// Set stores the payload at key. The write is refused with
	// coreplane.ErrVersionConflict when the stored payload carries a
	// strictly newer version than p, so stale nodes cannot overwrite
	// payloads already migrated by a newer one.
	Set(ctx context.Context, key string, p *Payload) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backing connection.
	Close() error
}
