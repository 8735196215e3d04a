package replicated

import (
	"context"
	"sync"
	"time"

	"github.com/arkstor/coreplane/store"
)

// TopologyProbe reports whether this node currently participates in a
// cluster. The wrappers consult it per call and route to the plain
// datastore-backed store while it answers false.
type TopologyProbe func(ctx context.Context) bool

// HealthCache answers backend health from a cached probe so the hot
// path never waits on the cluster. The cached answer may be up to
// interval stale; both gating decisions tolerate that window.
type HealthCache struct {
	backend  store.ReplicatedBackend
	local    store.ReplicatedBackend
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	probed  time.Time
	healthy bool
}

// HealthOption configures a HealthCache.
type HealthOption func(*HealthCache)

// WithLocalReplica sets the local replica consulted for best-effort
// reads while the primary backend is unhealthy.
func WithLocalReplica(b store.ReplicatedBackend) HealthOption {
	return func(h *HealthCache) { h.local = b }
}

// NewHealthCache creates a cache probing backend at most once per
// interval.
func NewHealthCache(backend store.ReplicatedBackend, interval time.Duration, opts ...HealthOption) *HealthCache {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	h := &HealthCache{
		backend:  backend,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthy returns the cached health, refreshing it when the cache has
// expired.
func (h *HealthCache) Healthy(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now := h.now(); h.probed.IsZero() || now.Sub(h.probed) >= h.interval {
		h.healthy = h.backend.Healthy(ctx)
		h.probed = now
	}
	return h.healthy
}

// LocalReplica returns the local replica when it exists and answers
// its own health probe. Only consulted after the primary probe
// reported unhealthy, so the probe here is never cached.
func (h *HealthCache) LocalReplica(ctx context.Context) (store.ReplicatedBackend, bool) {
	if h.local == nil || !h.local.Healthy(ctx) {
		return nil, false
	}
	return h.local, true
}

// Invalidate forces the next Healthy call to probe.
func (h *HealthCache) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probed = time.Time{}
}
