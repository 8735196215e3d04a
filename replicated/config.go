package replicated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/entry"
	"github.com/arkstor/coreplane/event"
	"github.com/arkstor/coreplane/store"
)

// ConfigWrapper is the replicated counterpart of entry.ConfigStore:
// one record per service, stored as a versioned payload in the
// replicated backend.
type ConfigWrapper struct {
	service    string
	version    coreplane.Version
	defaults   coreplane.Record
	backend    store.ReplicatedBackend
	health     *HealthCache
	bus        *event.Bus
	logger     *slog.Logger
	clustered  TopologyProbe
	standalone *entry.ConfigStore
	extend     entry.ExtendFn

	// Hooks run after every committed update.
	Hooks entry.HookRegistry

	mu sync.Mutex
}

// ConfigOption configures a ConfigWrapper.
type ConfigOption func(*ConfigWrapper)

// WithStandaloneConfig routes calls to the plain datastore-backed
// store whenever probe answers false, so a node that left (or never
// joined) the cluster keeps its local configuration.
func WithStandaloneConfig(s *entry.ConfigStore, probe TopologyProbe) ConfigOption {
	return func(w *ConfigWrapper) {
		w.standalone = s
		w.clustered = probe
	}
}

// WithConfigExtend decorates every record read out of a backend.
func WithConfigExtend(fn entry.ExtendFn) ConfigOption {
	return func(w *ConfigWrapper) { w.extend = fn }
}

// NewConfigWrapper creates a replicated config store for service.
// version stamps every write; defaults serve degraded reads and seed
// the first healthy one.
func NewConfigWrapper(
	service string,
	version coreplane.Version,
	defaults coreplane.Record,
	backend store.ReplicatedBackend,
	health *HealthCache,
	bus *event.Bus,
	logger *slog.Logger,
	opts ...ConfigOption,
) *ConfigWrapper {
	w := &ConfigWrapper{
		service:  service,
		version:  version,
		defaults: defaults,
		backend:  backend,
		health:   health,
		bus:      bus,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := bus.Register(w.eventName(), "replicated config changes for "+service); err != nil {
		logger.Debug("event already registered", slog.String("event", w.eventName()))
	}
	return w
}

// isStandalone reports whether this call should bypass the replicated
// backend entirely.
func (w *ConfigWrapper) isStandalone(ctx context.Context) bool {
	return w.standalone != nil && w.clustered != nil && !w.clustered(ctx)
}

func (w *ConfigWrapper) applyExtend(ctx context.Context, rec coreplane.Record) (coreplane.Record, error) {
	if w.extend == nil {
		return rec, nil
	}
	return w.extend(ctx, rec)
}

func (w *ConfigWrapper) eventName() string { return w.service + ".query" }

func (w *ConfigWrapper) key() string { return w.service }

// Config returns the service's record. A non-clustered node falls
// through to the plain store. While the backend is unhealthy or the
// stored payload was written by a different schema version, the
// defaults are returned instead so callers keep working. An unhealthy
// primary with a healthy local replica yields a best-effort read from
// the replica.
func (w *ConfigWrapper) Config(ctx context.Context) (coreplane.Record, error) {
	if w.isStandalone(ctx) {
		return w.standalone.Config(ctx)
	}
	if !w.health.Healthy(ctx) {
		if local, ok := w.health.LocalReplica(ctx); ok {
			if rec, err := w.readOnly(ctx, local); err == nil {
				w.logger.Warn("primary backend unhealthy, read from local replica",
					slog.String("service", w.service))
				return w.applyExtend(ctx, rec)
			}
		}
		w.logger.Warn("replicated backend unhealthy, serving defaults",
			slog.String("service", w.service))
		return w.defaults.Clone(), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	rec, _, err := w.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return w.applyExtend(ctx, rec)
}

// Update merges delta into the record and commits it with the local
// version stamp. A non-clustered node falls through to the plain
// store. It fails with UnhealthyBackendError while the backend is
// down and VersionMismatchError when the stored payload was written
// by a different version.
func (w *ConfigWrapper) Update(ctx context.Context, delta coreplane.Record) (coreplane.Record, error) {
	if w.isStandalone(ctx) {
		return w.standalone.Update(ctx, delta)
	}
	if !w.health.Healthy(ctx) {
		return nil, &coreplane.UnhealthyBackendError{Namespace: w.service}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current, stored, err := w.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.Version != w.version {
		return nil, &coreplane.VersionMismatchError{
			Namespace: w.service,
			Local:     w.version,
			Stored:    stored.Version,
		}
	}

	updated := current.Clone()
	for k, v := range delta {
		updated[k] = v
	}
	if err := w.write(ctx, updated); err != nil {
		return nil, err
	}

	if err := w.Hooks.Run(ctx, updated); err != nil {
		w.logger.Warn("post-update hook failed, change not announced",
			slog.String("service", w.service),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	w.bus.Publish(w.eventName(), event.ActionChanged, w.service, updated)
	return updated, nil
}

// loadLocked reads the payload, seeding the defaults when missing.
// A version-mismatched payload yields the defaults and is reported
// through the returned payload so writers can refuse.
func (w *ConfigWrapper) loadLocked(ctx context.Context) (coreplane.Record, *store.Payload, error) {
	p, err := w.backend.Get(ctx, w.key())
	var nf *coreplane.NotFoundError
	if errors.As(err, &nf) {
		if err := w.write(ctx, w.defaults); err != nil {
			return nil, nil, err
		}
		w.logger.Info("seeded replicated defaults", slog.String("service", w.service))
		return w.defaults.Clone(), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	if p.Version != w.version {
		w.logger.Error("replicated payload version mismatch, serving defaults",
			slog.String("service", w.service),
			slog.String("local", w.version.String()),
			slog.String("stored", p.Version.String()),
		)
		return w.defaults.Clone(), p, nil
	}

	var rec coreplane.Record
	if err := json.Unmarshal(p.Data, &rec); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", w.service, err)
	}
	return rec, p, nil
}

// readOnly loads the payload from b without ever writing: missing or
// version-mismatched payloads yield the defaults.
func (w *ConfigWrapper) readOnly(ctx context.Context, b store.ReplicatedBackend) (coreplane.Record, error) {
	p, err := b.Get(ctx, w.key())
	var nf *coreplane.NotFoundError
	if errors.As(err, &nf) {
		return w.defaults.Clone(), nil
	}
	if err != nil {
		return nil, err
	}
	if p.Version != w.version {
		return w.defaults.Clone(), nil
	}
	var rec coreplane.Record
	if err := json.Unmarshal(p.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", w.service, err)
	}
	return rec, nil
}

func (w *ConfigWrapper) write(ctx context.Context, rec coreplane.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", w.service, err)
	}
	return w.backend.Set(ctx, w.key(), &store.Payload{Version: w.version, Data: data})
}
