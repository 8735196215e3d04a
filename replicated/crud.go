package replicated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/entry"
	"github.com/arkstor/coreplane/event"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/store"
)

// CRUDWrapper is the replicated counterpart of entry.CRUDStore: a
// collection of versioned payloads under one key prefix.
type CRUDWrapper struct {
	service    string
	version    coreplane.Version
	backend    store.ReplicatedBackend
	health     *HealthCache
	bus        *event.Bus
	logger     *slog.Logger
	defaults   []coreplane.Record
	clustered  TopologyProbe
	standalone *entry.CRUDStore
	extend     entry.ExtendFn

	CreateHooks entry.HookRegistry
	UpdateHooks entry.HookRegistry
	DeleteHooks entry.HookRegistry

	mu     sync.Mutex
	seeded bool
}

// CRUDOption configures a CRUDWrapper.
type CRUDOption func(*CRUDWrapper)

// WithDefaultEntries seeds the given records into an empty healthy
// store on first read, and serves them as the degraded read result
// while no backend answers. Seeding assigns ids and bypasses hooks
// and events, since the entries represent factory state rather than a
// user mutation.
func WithDefaultEntries(recs ...coreplane.Record) CRUDOption {
	return func(w *CRUDWrapper) { w.defaults = recs }
}

// WithStandaloneCRUD routes calls to the plain datastore-backed store
// whenever probe answers false.
func WithStandaloneCRUD(s *entry.CRUDStore, probe TopologyProbe) CRUDOption {
	return func(w *CRUDWrapper) {
		w.standalone = s
		w.clustered = probe
	}
}

// WithCRUDExtend decorates every record read out of a backend.
func WithCRUDExtend(fn entry.ExtendFn) CRUDOption {
	return func(w *CRUDWrapper) { w.extend = fn }
}

// NewCRUDWrapper creates a replicated collection store for service.
func NewCRUDWrapper(
	service string,
	version coreplane.Version,
	backend store.ReplicatedBackend,
	health *HealthCache,
	bus *event.Bus,
	logger *slog.Logger,
	opts ...CRUDOption,
) *CRUDWrapper {
	w := &CRUDWrapper{
		service: service,
		version: version,
		backend: backend,
		health:  health,
		bus:     bus,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := bus.Register(w.eventName(), "replicated entry changes for "+service); err != nil {
		logger.Debug("event already registered", slog.String("event", w.eventName()))
	}
	return w
}

func (w *CRUDWrapper) eventName() string { return w.service + ".query" }

func (w *CRUDWrapper) prefix() string { return w.service + ":" }

func (w *CRUDWrapper) key(pk int64) string {
	return fmt.Sprintf("%s%d", w.prefix(), pk)
}

// isStandalone reports whether this call should bypass the replicated
// backend entirely.
func (w *CRUDWrapper) isStandalone(ctx context.Context) bool {
	return w.standalone != nil && w.clustered != nil && !w.clustered(ctx)
}

func (w *CRUDWrapper) applyExtend(ctx context.Context, rec coreplane.Record) (coreplane.Record, error) {
	if w.extend == nil {
		return rec, nil
	}
	return w.extend(ctx, rec)
}

func (w *CRUDWrapper) extendAll(ctx context.Context, recs []coreplane.Record) ([]coreplane.Record, error) {
	if w.extend == nil {
		return recs, nil
	}
	out := make([]coreplane.Record, 0, len(recs))
	for _, rec := range recs {
		extended, err := w.extend(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, extended)
	}
	return out, nil
}

// Query returns the matching records. A non-clustered node falls
// through to the plain store. While the backend is unhealthy it falls
// back to the local replica when one answers its probe, and to the
// configured default entries otherwise; entries written by another
// schema version are skipped.
func (w *CRUDWrapper) Query(ctx context.Context, filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error) {
	if w.isStandalone(ctx) {
		return w.standalone.Query(ctx, filters, opts)
	}
	backend := w.backend
	if !w.health.Healthy(ctx) {
		local, ok := w.health.LocalReplica(ctx)
		if !ok {
			w.logger.Warn("replicated backend unhealthy, serving default entries",
				slog.String("service", w.service),
				slog.Int("count", len(w.defaults)))
			recs := make([]coreplane.Record, 0, len(w.defaults))
			for _, rec := range w.defaults {
				recs = append(recs, rec.Clone())
			}
			return filter.Apply(recs, filters, opts)
		}
		w.logger.Warn("primary backend unhealthy, querying local replica",
			slog.String("service", w.service))
		backend = local
	}

	if backend == w.backend {
		if err := w.seedDefaults(ctx); err != nil {
			return nil, err
		}
	}
	recs, err := w.loadAll(ctx, backend)
	if err != nil {
		return nil, err
	}
	recs, err = w.extendAll(ctx, recs)
	if err != nil {
		return nil, err
	}
	return filter.Apply(recs, filters, opts)
}

// GetInstance returns the record with the given id, or NotFoundError.
// It fails with UnhealthyBackendError while the backend is down and no
// local replica answers, since "not found" would be a lie.
func (w *CRUDWrapper) GetInstance(ctx context.Context, pk int64) (coreplane.Record, error) {
	if w.isStandalone(ctx) {
		return w.standalone.GetInstance(ctx, pk)
	}
	backend := w.backend
	if !w.health.Healthy(ctx) {
		local, ok := w.health.LocalReplica(ctx)
		if !ok {
			return nil, &coreplane.UnhealthyBackendError{Namespace: w.service}
		}
		backend = local
	}
	rec, err := w.loadFrom(ctx, backend, pk)
	if err != nil {
		return nil, err
	}
	return w.applyExtend(ctx, rec)
}

// Create inserts rec with the next free id, runs the create hooks,
// and announces ADDED.
func (w *CRUDWrapper) Create(ctx context.Context, rec coreplane.Record) (coreplane.Record, error) {
	if w.isStandalone(ctx) {
		return w.standalone.Create(ctx, rec)
	}
	if !w.health.Healthy(ctx) {
		return nil, &coreplane.UnhealthyBackendError{Namespace: w.service}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	pk, err := w.nextID(ctx)
	if err != nil {
		return nil, err
	}
	created := rec.Clone()
	created["id"] = pk
	if err := w.write(ctx, pk, created); err != nil {
		return nil, err
	}

	if err := w.CreateHooks.Run(ctx, created); err != nil {
		w.logger.Warn("post-create hook failed, change not announced",
			slog.String("service", w.service),
			slog.Int64("id", pk),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	w.bus.Publish(w.eventName(), event.ActionAdded, pk, created)
	return created, nil
}

// Update merges delta into the record with the given id. It fails
// with VersionMismatchError when the stored payload was written by a
// different version.
func (w *CRUDWrapper) Update(ctx context.Context, pk int64, delta coreplane.Record) (coreplane.Record, error) {
	if w.isStandalone(ctx) {
		return w.standalone.Update(ctx, pk, delta)
	}
	if !w.health.Healthy(ctx) {
		return nil, &coreplane.UnhealthyBackendError{Namespace: w.service}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	p, err := w.backend.Get(ctx, w.key(pk))
	if err != nil {
		return nil, err
	}
	if p.Version != w.version {
		return nil, &coreplane.VersionMismatchError{
			Namespace: w.service,
			Local:     w.version,
			Stored:    p.Version,
		}
	}

	var current coreplane.Record
	if err := json.Unmarshal(p.Data, &current); err != nil {
		return nil, fmt.Errorf("decode %s/%d: %w", w.service, pk, err)
	}
	updated := current.Clone()
	for k, v := range delta {
		if k == "id" {
			continue
		}
		updated[k] = v
	}
	if err := w.write(ctx, pk, updated); err != nil {
		return nil, err
	}

	if err := w.UpdateHooks.Run(ctx, updated); err != nil {
		w.logger.Warn("post-update hook failed, change not announced",
			slog.String("service", w.service),
			slog.Int64("id", pk),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	w.bus.Publish(w.eventName(), event.ActionChanged, pk, updated)
	return updated, nil
}

// Delete removes the record with the given id, runs the delete hooks
// with the removed record, and announces REMOVED.
func (w *CRUDWrapper) Delete(ctx context.Context, pk int64) error {
	if w.isStandalone(ctx) {
		return w.standalone.Delete(ctx, pk)
	}
	if !w.health.Healthy(ctx) {
		return &coreplane.UnhealthyBackendError{Namespace: w.service}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	removed, err := w.load(ctx, pk)
	if err != nil {
		return err
	}
	if err := w.backend.Delete(ctx, w.key(pk)); err != nil {
		return err
	}

	if err := w.DeleteHooks.Run(ctx, removed); err != nil {
		w.logger.Warn("post-delete hook failed, change not announced",
			slog.String("service", w.service),
			slog.Int64("id", pk),
			slog.String("error", err.Error()),
		)
		return err
	}

	w.bus.Publish(w.eventName(), event.ActionRemoved, pk, removed)
	return nil
}

// seedDefaults writes the configured default entries into an empty
// healthy store, at most once per process.
func (w *CRUDWrapper) seedDefaults(ctx context.Context) error {
	if len(w.defaults) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seeded {
		return nil
	}
	ids, err := w.ids(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		for i, rec := range w.defaults {
			pk := int64(i + 1)
			seeded := rec.Clone()
			seeded["id"] = pk
			if err := w.write(ctx, pk, seeded); err != nil {
				return err
			}
		}
		w.logger.Info("seeded replicated default entries",
			slog.String("service", w.service),
			slog.Int("count", len(w.defaults)),
		)
	}
	w.seeded = true
	return nil
}

func (w *CRUDWrapper) load(ctx context.Context, pk int64) (coreplane.Record, error) {
	return w.loadFrom(ctx, w.backend, pk)
}

func (w *CRUDWrapper) loadFrom(ctx context.Context, b store.ReplicatedBackend, pk int64) (coreplane.Record, error) {
	p, err := b.Get(ctx, w.key(pk))
	if err != nil {
		return nil, err
	}
	if p.Version != w.version {
		return nil, &coreplane.VersionMismatchError{
			Namespace: w.service,
			Local:     w.version,
			Stored:    p.Version,
		}
	}
	var rec coreplane.Record
	if err := json.Unmarshal(p.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s/%d: %w", w.service, pk, err)
	}
	return rec, nil
}

func (w *CRUDWrapper) loadAll(ctx context.Context, b store.ReplicatedBackend) ([]coreplane.Record, error) {
	ids, err := w.idsFrom(ctx, b)
	if err != nil {
		return nil, err
	}
	recs := make([]coreplane.Record, 0, len(ids))
	for _, pk := range ids {
		rec, err := w.loadFrom(ctx, b, pk)
		if err != nil {
			var vm *coreplane.VersionMismatchError
			if errors.As(err, &vm) {
				w.logger.Error("skipping version-mismatched entry",
					slog.String("service", w.service),
					slog.Int64("id", pk),
					slog.String("stored", vm.Stored.String()),
				)
				continue
			}
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (w *CRUDWrapper) ids(ctx context.Context) ([]int64, error) {
	return w.idsFrom(ctx, w.backend)
}

func (w *CRUDWrapper) idsFrom(ctx context.Context, b store.ReplicatedBackend) ([]int64, error) {
	keys, err := b.Keys(ctx, w.prefix())
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		pk, err := strconv.ParseInt(strings.TrimPrefix(k, w.prefix()), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, pk)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (w *CRUDWrapper) nextID(ctx context.Context) (int64, error) {
	ids, err := w.ids(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 1, nil
	}
	return ids[len(ids)-1] + 1, nil
}

func (w *CRUDWrapper) write(ctx context.Context, pk int64, rec coreplane.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%d: %w", w.service, pk, err)
	}
	return w.backend.Set(ctx, w.key(pk), &store.Payload{Version: w.version, Data: data})
}
