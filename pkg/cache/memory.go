package cache

import (
	"context"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process LRU. A positive maxTTL bounds every entry;
// shorter per-entry TTLs given to Set are honored on read.
type MemoryCache struct {
	cache  *lru.LRU[string, memoryEntry]
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates an LRU holding at most maxEntries items. A
// non-positive maxTTL leaves expiry to the TTL given to each Set.
func NewMemoryCache(maxEntries int, maxTTL time.Duration) *MemoryCache {
	if maxEntries < 10 {
		maxEntries = 10
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
		now:   time.Now,
	}
}

// Get retrieves a cached value
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidCacheKey
	}

	entry, ok := c.cache.Get(key)
	if ok && !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.cache.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}

	c.hits.Add(1)
	return entry.data, nil
}

// Set stores a value. A non-positive ttl leaves only the cache-wide bound.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	if value == nil {
		return fmt.Errorf("value cannot be nil")
	}

	entry := memoryEntry{data: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.cache.Add(key, entry)
	return nil
}

// Delete removes keys
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.cache.Remove(key)
	}
	return nil
}

// InvalidatePattern removes every key matching pattern
func (c *MemoryCache) InvalidatePattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	for _, key := range c.cache.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			c.cache.Remove(key)
		}
	}
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close releases resources
func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}
