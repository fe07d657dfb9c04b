// Package cache memoizes analysis text by the content of its inputs.
package cache

import (
	"crypto/md5" //nolint:gosec // content key, not a security boundary
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/metrics"
	"github.com/sells-group/diet-analysis/internal/model"
)

// DefaultTTL is how long an analysis stays valid.
const DefaultTTL = time.Hour

// Entry is a stored analysis and the time it was stored.
type Entry struct {
	Result   string
	StoredAt time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics counts lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is an in-memory, process-local analysis cache. Entries expire after
// the TTL and are purged by the lookup that finds them expired. There is no
// size bound.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// New creates a cache. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for a (health record, ingredient list) pair: the
// hex MD5 of both values encoded as JSON with sorted keys. Store sentinels are
// normalized first with a fixed clock so the key depends on content only.
func Key(h model.HealthRecord, i model.IngredientList) (string, error) {
	hj, err := json.Marshal(h.Normalize(time.Time{}))
	if err != nil {
		return "", eris.Wrap(err, "cache: encode health record")
	}
	if i == nil {
		i = model.IngredientList{}
	}
	ij, err := json.Marshal(i)
	if err != nil {
		return "", eris.Wrap(err, "cache: encode ingredients")
	}

	sum := md5.New() //nolint:gosec
	sum.Write(hj)
	sum.Write(ij)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Lookup returns the cached analysis for the pair if present and fresh.
func (c *Cache) Lookup(h model.HealthRecord, i model.IngredientList) (string, bool) {
	key, err := Key(h, i)
	if err != nil {
		zap.L().Warn("cache: key derivation failed", zap.Error(err))
		c.metrics.CacheLookup(false)
		return "", false
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.metrics.CacheLookup(false)
		return "", false
	}

	if c.now().Sub(e.StoredAt) >= c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Store may have refreshed it.
		if cur, ok := c.entries[key]; ok && c.now().Sub(cur.StoredAt) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		zap.L().Debug("cache: entry expired", zap.String("key", key))
		c.metrics.CacheLookup(false)
		return "", false
	}

	zap.L().Debug("cache: hit", zap.String("key", key))
	c.metrics.CacheLookup(true)
	return e.Result, true
}

// Store records result for the pair, replacing any previous entry.
func (c *Cache) Store(h model.HealthRecord, i model.IngredientList, result string) {
	key, err := Key(h, i)
	if err != nil {
		zap.L().Warn("cache: key derivation failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.entries[key] = Entry{Result: result, StoredAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
