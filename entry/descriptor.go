package entry

import (
	"context"
	"sync"

	"github.com/arkstor/coreplane"
)

// ExtendFn decorates a raw datastore record before it is returned to
// callers, typically joining in derived or runtime state.
type ExtendFn func(ctx context.Context, rec coreplane.Record) (coreplane.Record, error)

// ValidateFn inspects a proposed record before it is committed. old is
// nil on creation. Implementations should collect problems into a
// ValidationErrors and return it via Check.
type ValidateFn func(ctx context.Context, old, proposed coreplane.Record) error

// Descriptor binds an entry store to its datastore namespace and
// event source.
type Descriptor struct {
	// Service is the dotted name the store is exposed under,
	// e.g. "sharing.nfs".
	Service string

	// Namespace is the datastore namespace backing the store.
	Namespace string

	// EventName is the bus source for change announcements. Empty
	// defaults to Service + ".query".
	EventName string

	// PrimaryKey is the field name the record's primary key is
	// exposed under. Empty defaults to "id". The backing datastore
	// always keeps the key in its "id" column; the store translates
	// on the way in and out.
	PrimaryKey string

	// Extend, when set, decorates every record read out of the
	// datastore.
	Extend ExtendFn

	// Validate, when set, gates every mutation.
	Validate ValidateFn
}

func (d Descriptor) pkName() string {
	if d.PrimaryKey != "" {
		return d.PrimaryKey
	}
	return "id"
}

// exposePK moves the datastore's "id" value under the descriptor's
// primary key field name.
func (d Descriptor) exposePK(rec coreplane.Record) coreplane.Record {
	pk := d.pkName()
	if pk == "id" {
		return rec
	}
	if v, ok := rec["id"]; ok {
		rec[pk] = v
		delete(rec, "id")
	}
	return rec
}

func (d Descriptor) eventName() string {
	if d.EventName != "" {
		return d.EventName
	}
	return d.Service + ".query"
}

// Hook observes a committed mutation. It receives the re-read record
// (the removed record for deletions). An error propagates to the
// mutation's caller and suppresses the change announcement.
type Hook func(ctx context.Context, rec coreplane.Record) error

// HookRegistry holds the post-change hooks of one store, run in
// registration order. The first error stops the sequence.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks []Hook
}

// Register appends a hook.
func (r *HookRegistry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Run invokes every hook in order, stopping at the first error.
func (r *HookRegistry) Run(ctx context.Context, rec coreplane.Record) error {
	r.mu.RLock()
	hooks := append([]Hook(nil), r.hooks...)
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
