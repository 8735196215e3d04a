package entry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/event"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/ext"
	"github.com/arkstor/coreplane/store"
)

// ConfigStore manages a namespace holding exactly one record. Reads
// lazily seed the record from defaults, so a fresh system behaves as
// if every config row had always existed.
type ConfigStore struct {
	desc     Descriptor
	ds       store.Datastore
	bus      *event.Bus
	exts     *ext.Registry
	logger   *slog.Logger
	defaults coreplane.Record

	// Hooks run after every committed update.
	Hooks HookRegistry

	// mu serializes Update and the seed-on-first-read path.
	mu sync.Mutex
}

// NewConfigStore creates a config entry store. defaults is the record
// seeded on first read; it must not contain the primary key field.
func NewConfigStore(
	desc Descriptor,
	ds store.Datastore,
	bus *event.Bus,
	exts *ext.Registry,
	logger *slog.Logger,
	defaults coreplane.Record,
) *ConfigStore {
	s := &ConfigStore{
		desc:     desc,
		ds:       ds,
		bus:      bus,
		exts:     exts,
		logger:   logger,
		defaults: defaults,
	}
	if err := bus.Register(s.desc.eventName(), "config changes for "+desc.Service); err != nil {
		logger.Debug("event already registered", slog.String("event", s.desc.eventName()))
	}
	return s
}

// Descriptor returns the store's binding.
func (s *ConfigStore) Descriptor() Descriptor { return s.desc }

// Config returns the single record, inserting the defaults if the
// namespace is empty. Concurrent first reads insert exactly once.
func (s *ConfigStore) Config(ctx context.Context) (coreplane.Record, error) {
	rec, err := s.peek(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = s.seed(ctx)
		if err != nil {
			return nil, err
		}
	}
	return s.extend(ctx, rec)
}

// Update merges delta into the record, commits it, runs the hooks,
// and announces the change. The returned record is the committed
// state re-read from the datastore. A hook error propagates and no
// event is emitted; the datastore write stands.
func (s *ConfigStore) Update(ctx context.Context, delta coreplane.Record) (coreplane.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.configLocked(ctx)
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
	if err := s.ds.Update(ctx, s.desc.Namespace, old[s.desc.pkName()], proposed); err != nil {
		return nil, err
	}

	updated, err := s.configLocked(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Hooks.Run(ctx, updated); err != nil {
		s.logger.Warn("post-update hook failed, change not announced",
			slog.String("service", s.desc.Service),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.bus.Publish(s.desc.eventName(), event.ActionChanged, updated[s.desc.pkName()], updated)
	s.exts.EmitEntryChanged(ctx, s.desc.Namespace, string(event.ActionChanged), updated)
	return updated, nil
}

// configLocked reads (seeding if needed) and extends while mu is held.
func (s *ConfigStore) configLocked(ctx context.Context) (coreplane.Record, error) {
	rec, err := s.peek(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = s.insertDefaults(ctx)
		if err != nil {
			return nil, err
		}
	}
	return s.extend(ctx, rec)
}

// peek returns the raw record or nil if the namespace is empty.
func (s *ConfigStore) peek(ctx context.Context) (coreplane.Record, error) {
	recs, err := s.ds.Query(ctx, s.desc.Namespace, nil, filter.Options{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return s.desc.exposePK(recs[0]), nil
}

// seed inserts the defaults, double-checking under the lock so two
// concurrent first reads cannot both insert.
func (s *ConfigStore) seed(ctx context.Context) (coreplane.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.peek(ctx)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	return s.insertDefaults(ctx)
}

func (s *ConfigStore) insertDefaults(ctx context.Context) (coreplane.Record, error) {
	pk, err := s.ds.Insert(ctx, s.desc.Namespace, s.defaults.Clone())
	if err != nil {
		return nil, err
	}
	s.logger.Info("seeded config defaults",
		slog.String("service", s.desc.Service),
		slog.Any("id", pk),
	)
	rec := s.defaults.Clone()
	rec[s.desc.pkName()] = pk
	return rec, nil
}

func (s *ConfigStore) extend(ctx context.Context, rec coreplane.Record) (coreplane.Record, error) {
	if s.desc.Extend == nil {
		return rec, nil
	}
	return s.desc.Extend(ctx, rec)
}
