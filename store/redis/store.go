// Package redis implements store.ReplicatedBackend on Redis. Entry
// payloads are stored as JSON strings; health is answered by PING plus
// an optional health sentinel key a cluster manager maintains.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	b := redisstore.New(client)
//	if !b.Healthy(ctx) { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/store"
)

// Compile-time interface check.
var _ store.ReplicatedBackend = (*Backend)(nil)

// Redis key naming conventions. All keys are prefixed with
// "coreplane:" to avoid collisions.
const keyPrefix = "coreplane:replicated:"

// healthKey is the sentinel a cluster manager refreshes while
// replication is usable. When configured, Healthy requires it to
// exist in addition to a successful PING.
const healthKey = "coreplane:replication_healthy"

func entryKey(key string) string { return keyPrefix + key }

// Option configures the Backend.
type Option func(*Backend)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithHealthSentinel makes Healthy require the replication sentinel
// key to exist.
func WithHealthSentinel() Option {
	return func(b *Backend) { b.sentinel = true }
}

// Backend implements store.ReplicatedBackend backed by Redis. The
// caller owns the Redis client lifecycle.
type Backend struct {
	client   redis.UniversalClient
	logger   *slog.Logger
	sentinel bool
}

// New creates a Redis-backed replicated backend.
func New(client redis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Client returns the underlying Redis client.
func (b *Backend) Client() redis.UniversalClient { return b.client }

func (b *Backend) Healthy(ctx context.Context) bool {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.logger.Warn("replicated backend ping failed", slog.String("error", err.Error()))
		return false
	}
	if !b.sentinel {
		return true
	}
	n, err := b.client.Exists(ctx, healthKey).Result()
	if err != nil {
		b.logger.Warn("replicated backend sentinel check failed", slog.String("error", err.Error()))
		return false
	}
	return n > 0
}

func (b *Backend) Get(ctx context.Context, key string) (*store.Payload, error) {
	data, err := b.client.Get(ctx, entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &coreplane.NotFoundError{Namespace: "replicated", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var p store.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &p, nil
}

// setScript writes the payload unless the stored one carries a
// strictly newer version, so a stale node cannot clobber a payload a
// newer node already migrated. Compare-and-set runs server-side to
// stay atomic across writers.
var setScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local p = cjson.decode(cur)
	local major = tonumber(ARGV[2])
	local minor = tonumber(ARGV[3])
	if p.version.major > major or
		(p.version.major == major and p.version.minor > minor) then
		return redis.error_reply('version conflict: stored ' ..
			p.version.major .. '.' .. p.version.minor)
	end
end
redis.call('SET', KEYS[1], ARGV[1])
return 'OK'
`)

func (b *Backend) Set(ctx context.Context, key string, p *store.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = setScript.Run(ctx, b.client, []string{entryKey(key)},
		data, p.Version.Major, p.Version.Minor).Err()
	if err != nil {
		if strings.Contains(err.Error(), "version conflict") {
			return fmt.Errorf("set %s: %w", key, coreplane.ErrVersionConflict)
		}
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, entryKey(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, entryKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return keys, nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (b *Backend) Close() error { return nil }
