package entry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/event"
	"github.com/arkstor/coreplane/ext"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/store"
)

// CRUDStore manages a collection of records in one namespace with
// filtering, uniqueness checks, and dependency-guarded deletion.
type CRUDStore struct {
	desc   Descriptor
	ds     store.Datastore
	bus    *event.Bus
	exts   *ext.Registry
	logger *slog.Logger

	// CreateHooks, UpdateHooks, and DeleteHooks run after the
	// corresponding mutation commits, before its announcement.
	CreateHooks HookRegistry
	UpdateHooks HookRegistry
	DeleteHooks HookRegistry
}

// NewCRUDStore creates a collection entry store.
func NewCRUDStore(
	desc Descriptor,
	ds store.Datastore,
	bus *event.Bus,
	exts *ext.Registry,
	logger *slog.Logger,
) *CRUDStore {
	s := &CRUDStore{
		desc:   desc,
		ds:     ds,
		bus:    bus,
		exts:   exts,
		logger: logger,
	}
	if err := bus.Register(s.desc.eventName(), "entry changes for "+desc.Service); err != nil {
		logger.Debug("event already registered", slog.String("event", s.desc.eventName()))
	}
	return s
}

// Descriptor returns the store's binding.
func (s *CRUDStore) Descriptor() Descriptor { return s.desc }

// RegisterDependency declares that records of ref.Datastore reference
// this store's namespace through ref.Field, blocking deletion while
// dependents exist. The datastore must support backref registration.
func (s *CRUDStore) RegisterDependency(ref store.Backref) error {
	type registrar interface {
		RegisterBackref(namespace string, ref store.Backref)
	}
	r, ok := s.ds.(registrar)
	if !ok {
		return fmt.Errorf("datastore %T does not support backrefs", s.ds)
	}
	r.RegisterBackref(s.desc.Namespace, ref)
	return nil
}

// Query returns the records matching filters with opts applied.
//
// When the store has an Extend decorator, filters are evaluated
// against the extended records so callers can filter on derived
// fields; opts.ForceStorageFilters skips that and pushes the filters
// to the datastore untouched.
func (s *CRUDStore) Query(ctx context.Context, filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error) {
	if s.desc.Extend == nil || opts.ForceStorageFilters {
		recs, err := s.ds.Query(ctx, s.desc.Namespace, s.storageFilters(filters), opts)
		if err != nil {
			return nil, err
		}
		if opts.Count {
			return recs, nil
		}
		return s.extendAll(ctx, recs)
	}

	raw, err := s.ds.Query(ctx, s.desc.Namespace, nil, filter.Options{})
	if err != nil {
		return nil, err
	}
	extended, err := s.extendAll(ctx, raw)
	if err != nil {
		return nil, err
	}
	return filter.Apply(extended, filters, opts)
}

// Count returns the number of records matching filters.
func (s *CRUDStore) Count(ctx context.Context, filters []filter.Filter) (int, error) {
	if s.desc.Extend == nil {
		return s.ds.QueryCount(ctx, s.desc.Namespace, s.storageFilters(filters))
	}
	recs, err := s.Query(ctx, filters, filter.Options{})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// GetInstance returns the record with the given id, or NotFoundError.
func (s *CRUDStore) GetInstance(ctx context.Context, pk any) (coreplane.Record, error) {
	recs, err := s.Query(ctx, []filter.Filter{filter.F(s.desc.pkName(), "=", pk)}, filter.Options{})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &coreplane.NotFoundError{Namespace: s.desc.Namespace, ID: pk}
	}
	return recs[0], nil
}

// EnsureUnique verifies no other record holds value in field.
// excludePK, when non-nil, ignores the record being updated.
func (s *CRUDStore) EnsureUnique(ctx context.Context, field string, value any, excludePK any) error {
	filters := []filter.Filter{filter.F(field, "=", value)}
	if excludePK != nil {
		filters = append(filters, filter.F("id", "!=", excludePK))
	}
	n, err := s.ds.QueryCount(ctx, s.desc.Namespace, filters)
	if err != nil {
		return err
	}
	if n > 0 {
		return &coreplane.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%v already in use", value),
		}
	}
	return nil
}

// Create validates and inserts rec, runs the create hooks, and
// announces ADDED. The returned record is the committed state.
func (s *CRUDStore) Create(ctx context.Context, rec coreplane.Record) (coreplane.Record, error) {
	if s.desc.Validate != nil {
		if err := s.desc.Validate(ctx, nil, rec); err != nil {
			return nil, err
		}
	}

	stored := rec.Clone()
	delete(stored, "id")
	delete(stored, s.desc.pkName())
	pk, err := s.ds.Insert(ctx, s.desc.Namespace, stored)
	if err != nil {
		return nil, err
	}
	created, err := s.GetInstance(ctx, pk)
	if err != nil {
		return nil, err
	}

	if err := s.CreateHooks.Run(ctx, created); err != nil {
		s.logger.Warn("post-create hook failed, change not announced",
			slog.String("service", s.desc.Service),
			slog.Any("id", pk),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.announce(ctx, event.ActionAdded, pk, created)
	return created, nil
}

// Update merges delta into the record with the given id, runs the
// update hooks, and announces CHANGED.
func (s *CRUDStore) Update(ctx context.Context, pk any, delta coreplane.Record) (coreplane.Record, error) {
	old, err := s.GetInstance(ctx, pk)
	if err != nil {
		return nil, err
	}

	proposed := old.Clone()
	for k, v := range delta {
		if k == "id" || k == s.desc.pkName() {
			continue
		}
		proposed[k] = v
	}
	if s.desc.Validate != nil {
		if err := s.desc.Validate(ctx, old, proposed); err != nil {
			return nil, err
		}
	}

	delete(proposed, s.desc.pkName())
	if err := s.ds.Update(ctx, s.desc.Namespace, pk, proposed); err != nil {
		return nil, err
	}
	updated, err := s.GetInstance(ctx, pk)
	if err != nil {
		return nil, err
	}

	if err := s.UpdateHooks.Run(ctx, updated); err != nil {
		s.logger.Warn("post-update hook failed, change not announced",
			slog.String("service", s.desc.Service),
			slog.Any("id", pk),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.announce(ctx, event.ActionChanged, pk, updated)
	return updated, nil
}

// Delete removes the record with the given id after verifying no
// other namespace still references it, runs the delete hooks with the
// removed record, and announces REMOVED.
func (s *CRUDStore) Delete(ctx context.Context, pk any) error {
	removed, err := s.GetInstance(ctx, pk)
	if err != nil {
		return err
	}
	if err := s.CheckDependencies(ctx, pk); err != nil {
		return err
	}

	if err := s.ds.Delete(ctx, s.desc.Namespace, pk); err != nil {
		return err
	}

	if err := s.DeleteHooks.Run(ctx, removed); err != nil {
		s.logger.Warn("post-delete hook failed, change not announced",
			slog.String("service", s.desc.Service),
			slog.Any("id", pk),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.announce(ctx, event.ActionRemoved, pk, removed)
	return nil
}

// CheckDependencies returns DependencyConflictError if records in
// other namespaces still reference pk. Namespaces listed in ignored
// do not count; a caller deleting a whole subtree passes the
// namespaces it will clean up itself.
func (s *CRUDStore) CheckDependencies(ctx context.Context, pk any, ignored ...string) error {
	deps, err := s.ds.GetBackrefs(ctx, s.desc.Namespace, pk)
	if err != nil {
		return err
	}
	kept := deps[:0]
	for _, d := range deps {
		skip := false
		for _, ns := range ignored {
			if d.Datastore == ns {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, d)
		}
	}
	if len(kept) > 0 {
		return &coreplane.DependencyConflictError{Dependents: kept}
	}
	return nil
}

func (s *CRUDStore) announce(ctx context.Context, action event.Action, pk any, rec coreplane.Record) {
	s.bus.Publish(s.desc.eventName(), action, pk, rec)
	s.exts.EmitEntryChanged(ctx, s.desc.Namespace, string(action), rec)
}

func (s *CRUDStore) extendAll(ctx context.Context, recs []coreplane.Record) ([]coreplane.Record, error) {
	out := make([]coreplane.Record, 0, len(recs))
	for _, rec := range recs {
		rec = s.desc.exposePK(rec)
		if s.desc.Extend != nil {
			extended, err := s.desc.Extend(ctx, rec)
			if err != nil {
				return nil, err
			}
			rec = extended
		}
		out = append(out, rec)
	}
	return out, nil
}

// storageFilters rewrites filters on the exposed primary key field to
// the datastore's "id" column.
func (s *CRUDStore) storageFilters(filters []filter.Filter) []filter.Filter {
	pk := s.desc.pkName()
	if pk == "id" {
		return filters
	}
	out := make([]filter.Filter, len(filters))
	for i, f := range filters {
		if f.Field == pk {
			f.Field = "id"
		}
		out[i] = f
	}
	return out
}

