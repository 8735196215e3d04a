// Package memory provides in-memory implementations of the store
// interfaces, for development and testing. All operations are
// mutex-guarded and records are deep-copied on the way in and out so
// callers can never alias internal state.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/filter"
	"github.com/arkstor/coreplane/store"
)

// Datastore is an in-memory implementation of store.Datastore.
// Primary keys are auto-incremented integers assigned on insert.
type Datastore struct {
	mu       sync.RWMutex
	tables   map[string]map[int]coreplane.Record
	nextID   map[string]int
	backrefs map[string][]store.Backref
	closed   bool
}

// NewDatastore creates an empty in-memory datastore.
func NewDatastore() *Datastore {
	return &Datastore{
		tables:   make(map[string]map[int]coreplane.Record),
		nextID:   make(map[string]int),
		backrefs: make(map[string][]store.Backref),
	}
}

// RegisterBackref declares that records of ref.Datastore reference
// namespace through ref.Field. GetBackrefs consults these.
func (d *Datastore) RegisterBackref(namespace string, ref store.Backref) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backrefs[namespace] = append(d.backrefs[namespace], ref)
}

func (d *Datastore) Query(_ context.Context, namespace string, filters []filter.Filter, opts filter.Options) ([]coreplane.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	recs := d.snapshot(namespace)
	return filter.Apply(recs, filters, opts)
}

func (d *Datastore) QueryOne(_ context.Context, namespace string, filters []filter.Filter) (coreplane.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	recs, err := filter.Apply(d.snapshot(namespace), filters, filter.Options{})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &coreplane.NotFoundError{Namespace: namespace}
	}
	return recs[0], nil
}

func (d *Datastore) QueryCount(_ context.Context, namespace string, filters []filter.Filter) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := filter.CountMatches(d.snapshot(namespace), filters)
	return int(n), err
}

func (d *Datastore) Insert(_ context.Context, namespace string, rec coreplane.Record) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tables[namespace] == nil {
		d.tables[namespace] = make(map[int]coreplane.Record)
		d.nextID[namespace] = 1
	}
	pk := d.nextID[namespace]
	d.nextID[namespace]++

	stored := rec.Clone()
	stored["id"] = pk
	d.tables[namespace][pk] = stored
	return pk, nil
}

func (d *Datastore) Update(_ context.Context, namespace string, pk any, rec coreplane.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, err := intPK(pk)
	if err != nil {
		return err
	}
	existing, ok := d.tables[namespace][key]
	if !ok {
		return &coreplane.NotFoundError{Namespace: namespace, ID: pk}
	}
	for k, v := range rec.Clone() {
		if k == "id" {
			continue
		}
		existing[k] = v
	}
	return nil
}

func (d *Datastore) Delete(_ context.Context, namespace string, pk any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, err := intPK(pk)
	if err != nil {
		return err
	}
	if _, ok := d.tables[namespace][key]; !ok {
		return &coreplane.NotFoundError{Namespace: namespace, ID: pk}
	}
	delete(d.tables[namespace], key)
	return nil
}

func (d *Datastore) GetBackrefs(_ context.Context, namespace string, pk any) ([]coreplane.Dependent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var deps []coreplane.Dependent
	for _, ref := range d.backrefs[namespace] {
		var objects []coreplane.Record
		for _, rec := range d.tables[ref.Datastore] {
			if filter.Equal(rec[ref.Field], pk) {
				objects = append(objects, rec.Clone())
			}
		}
		if len(objects) > 0 {
			deps = append(deps, coreplane.Dependent{
				Datastore: ref.Datastore,
				Service:   ref.Service,
				Field:     ref.Field,
				Objects:   objects,
			})
		}
	}
	return deps, nil
}

func (d *Datastore) Ping(context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("datastore closed")
	}
	return nil
}

func (d *Datastore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// snapshot deep-copies a namespace; callers hold at least a read lock.
func (d *Datastore) snapshot(namespace string) []coreplane.Record {
	recs := make([]coreplane.Record, 0, len(d.tables[namespace]))
	for _, rec := range d.tables[namespace] {
		recs = append(recs, rec.Clone())
	}
	return recs
}

func intPK(pk any) (int, error) {
	switch v := pk.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("unsupported primary key %T", pk)
}

// Backend is an in-memory implementation of store.ReplicatedBackend
// with a switchable health flag for testing the replicated wrappers.
type Backend struct {
	mu      sync.RWMutex
	data    map[string]store.Payload
	healthy bool
}

// NewBackend creates a healthy, empty backend.
func NewBackend() *Backend {
	return &Backend{data: make(map[string]store.Payload), healthy: true}
}

// SetHealthy flips the health flag returned by Healthy.
func (b *Backend) SetHealthy(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = ok
}

func (b *Backend) Healthy(context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

func (b *Backend) Get(_ context.Context, key string) (*store.Payload, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.data[key]
	if !ok {
		return nil, &coreplane.NotFoundError{Namespace: "replicated", ID: key}
	}
	cp := p
	cp.Data = append([]byte(nil), p.Data...)
	return &cp, nil
}

func (b *Backend) Set(_ context.Context, key string, p *store.Payload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.data[key]; ok && cur.Version.NewerThan(p.Version) {
		return fmt.Errorf("%s: stored %s, writing %s: %w",
			key, cur.Version, p.Version, coreplane.ErrVersionConflict)
	}
	cp := *p
	cp.Data = append([]byte(nil), p.Data...)
	b.data[key] = cp
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *Backend) Close() error { return nil }
