// Package cache provides a two-tier cache for embedding vectors:
// L1 in-memory Ristretto (microsecond latency) with an optional L2
// Redis behind it, shared across instances. Re-embedding the same
// message text is by far the most expensive avoidable call in the
// semantic tier.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/jsonx"
)

// Metrics tracks cache performance.
type Metrics struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
}

// EmbeddingCache caches text → vector lookups.
type EmbeddingCache struct {
	l1        *ristretto.Cache[string, []float32]
	l2        *redis.Client
	ttl       time.Duration
	logger    *zap.Logger
	metrics   Metrics
	metricsMu sync.Mutex
}

// NewEmbeddingCache creates the two-tier cache. redisClient may be nil
// for a purely in-memory cache.
// maxEntries: L1 capacity (default 10,000); ttl: L2 expiry (default 24h).
func NewEmbeddingCache(maxEntries int64, ttl time.Duration, redisClient *redis.Client, logger *zap.Logger) (*EmbeddingCache, error) {
	if maxEntries == 0 {
		maxEntries = 10000
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &EmbeddingCache{
		l1:     l1,
		l2:     redisClient,
		ttl:    ttl,
		logger: logger.Named("embedcache"),
	}, nil
}

// Get retrieves a cached vector, trying L1 then L2. L2 hits are
// promoted to L1.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	key := cacheKey(text)

	if vec, found := c.l1.Get(key); found {
		c.record(func(m *Metrics) { m.L1Hits++ })
		return vec, true
	}
	c.record(func(m *Metrics) { m.L1Misses++ })

	if c.l2 == nil {
		return nil, false
	}

	data, err := c.l2.Get(ctx, key).Bytes()
	if err != nil || len(data) == 0 {
		c.record(func(m *Metrics) { m.L2Misses++ })
		return nil, false
	}

	var vec []float32
	if err := jsonx.Unmarshal(data, &vec); err != nil {
		c.logger.Warn("corrupt cached embedding dropped", zap.Error(err))
		c.l2.Del(ctx, key)
		return nil, false
	}

	c.record(func(m *Metrics) { m.L2Hits++ })
	c.l1.Set(key, vec, 1)
	return vec, true
}

// Set stores a vector in both tiers. L2 failures are logged and
// swallowed; the cache is an optimization, never a dependency.
func (c *EmbeddingCache) Set(ctx context.Context, text string, vec []float32) {
	key := cacheKey(text)
	c.l1.Set(key, vec, 1)

	if c.l2 == nil {
		return
	}
	data, err := jsonx.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.l2.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug("L2 embedding write failed", zap.Error(err))
	}
}

// Stats returns a snapshot of the cache metrics.
func (c *EmbeddingCache) Stats() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

// Close releases L1 resources. The Redis client is owned by the caller.
func (c *EmbeddingCache) Close() {
	c.l1.Close()
}

func (c *EmbeddingCache) record(fn func(*Metrics)) {
	c.metricsMu.Lock()
	fn(&c.metrics)
	c.metricsMu.Unlock()
}

// cacheKey hashes the text so arbitrary guest messages make safe,
// bounded Redis keys.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + hex.EncodeToString(sum[:16])
}
