package job

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arkstor/coreplane"
)

// Method is one callable registered with the engine. Job is nil for
// direct (non-job-wrapped) methods.
type Method struct {
	// Name is the full dotted call name, "service.method".
	Name    string
	Handler HandlerFunc
	Job     *Options

	// Private methods are hidden from service listings but still
	// callable.
	Private bool

	// ThrottleRate, when positive, caps calls per second with bursts
	// of ThrottleBurst (minimum 1).
	ThrottleRate  float64
	ThrottleBurst int

	// PeriodicInterval, when positive, has the engine invoke the
	// method on that interval; PeriodicRunOnStart fires it once at
	// startup too.
	PeriodicInterval   time.Duration
	PeriodicRunOnStart bool

	Description string
}

// JobWrapped reports whether calls to m produce tracked jobs.
func (m *Method) JobWrapped() bool {
	return m.Job != nil
}

// Registry maps call names to methods. Registration happens during
// engine setup; lookups run concurrently after.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*Method
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Method)}
}

// Register adds m, failing fast on a duplicate name so collisions
// surface at startup rather than shadowing silently.
func (r *Registry) Register(m *Method) error {
	if m.Name == "" {
		return fmt.Errorf("method has no name")
	}
	if m.Handler == nil {
		return fmt.Errorf("method %q has no handler", m.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[m.Name]; ok {
		return fmt.Errorf("%q: %w", m.Name, coreplane.ErrDuplicateMethod)
	}
	r.methods[m.Name] = m
	return nil
}

// Unregister removes a method by name. Missing names are a no-op; the
// engine uses this to unwind a partially registered service.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.methods, name)
}

// Get looks up a method by its full name.
func (r *Registry) Get(name string) (*Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, coreplane.ErrMethodNotFound)
	}
	return m, nil
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of registered methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}
