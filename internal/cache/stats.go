// Package cache holds the read-through cache for dashboard statistics. Cached
// values expire after a fixed TTL and are never consulted by the ledger.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/metrics"
	"github.com/kkkkikiki/stampcard/internal/model"
)

const keyPrefix = "stampcard:stats:"

func statsKey(businessID string) string {
	return keyPrefix + businessID
}

// Backend stores serialised stats with an expiry
type Backend interface {
	Get(ctx context.Context, key string) (*model.BusinessStats, bool, error)
	Set(ctx context.Context, key string, stats *model.BusinessStats, ttl time.Duration) error
}

// LoadFunc reads fresh stats from the store
type LoadFunc func(ctx context.Context) (*model.BusinessStats, error)

// StatsCache is a read-through cache in front of the store's aggregates
type StatsCache struct {
	backend Backend
	ttl     time.Duration
	logger  *zap.Logger
}

// NewStatsCache creates a cache; a non-positive ttl disables caching
func NewStatsCache(backend Backend, ttl time.Duration, logger *zap.Logger) *StatsCache {
	return &StatsCache{backend: backend, ttl: ttl, logger: logger}
}

// Get returns cached stats for the business, loading and caching them on a
// miss. Backend failures degrade to a direct load.
func (c *StatsCache) Get(ctx context.Context, businessID string, load LoadFunc) (*model.BusinessStats, error) {
	if c.ttl <= 0 {
		return load(ctx)
	}

	key := statsKey(businessID)
	stats, ok, err := c.backend.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordStatsCacheLookup("error")
		c.logger.Warn("Stats cache read failed", zap.String("business_id", businessID), zap.Error(err))
	case ok:
		metrics.RecordStatsCacheLookup("hit")
		return stats, nil
	default:
		metrics.RecordStatsCacheLookup("miss")
	}

	stats, err = load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.backend.Set(ctx, key, stats, c.ttl); err != nil {
		c.logger.Warn("Stats cache write failed", zap.String("business_id", businessID), zap.Error(err))
	}
	return stats, nil
}

// RedisBackend keeps stats in Redis with native key expiry
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a Redis backend
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get implements Backend
func (b *RedisBackend) Get(ctx context.Context, key string) (*model.BusinessStats, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var stats model.BusinessStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return &stats, true, nil
}

// Set implements Backend
func (b *RedisBackend) Set(ctx context.Context, key string, stats *model.BusinessStats, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, key, data, ttl).Err()
}

type memoryEntry struct {
	stats   model.BusinessStats
	expires time.Time
}

// MemoryBackend keeps stats in process memory
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an in-process backend. now may be nil.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{entries: make(map[string]memoryEntry), now: now}
}

// Get implements Backend
func (b *MemoryBackend) Get(_ context.Context, key string) (*model.BusinessStats, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !b.now().Before(e.expires) {
		delete(b.entries, key)
		return nil, false, nil
	}
	stats := e.stats
	return &stats, true, nil
}

// Set implements Backend
func (b *MemoryBackend) Set(_ context.Context, key string, stats *model.BusinessStats, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{stats: *stats, expires: b.now().Add(ttl)}
	return nil
}
