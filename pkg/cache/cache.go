package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache stores opaque serialized reports under string keys.
type Cache interface {
	// Get returns ErrCacheMiss when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// InvalidatePattern removes every key matching a glob pattern such as
	// "analytics:trend:*".
	InvalidatePattern(ctx context.Context, pattern string) error
	Close() error
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	HitRate   float64
	ItemCount int64
}

// Config selects and sizes the cache backends. An empty RedisURL gives a
// memory-only cache, a zero L1MaxEntries a redis-only one, and both set a
// tiered cache.
type Config struct {
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	L1MaxEntries int
	L1TTL        time.Duration
}

// DefaultConfig returns a memory-only configuration
func DefaultConfig() Config {
	return Config{
		L1MaxEntries: 1024,
		L1TTL:        5 * time.Minute,
	}
}

// New builds the cache described by cfg
func New(cfg Config) (Cache, error) {
	switch {
	case cfg.RedisURL == "" && cfg.L1MaxEntries <= 0:
		return nil, fmt.Errorf("cache: neither redis nor in-memory cache configured")
	case cfg.RedisURL == "":
		// Alone, the memory cache honors each entry's TTL; L1TTL only caps
		// the local tier in front of redis.
		return NewMemoryCache(cfg.L1MaxEntries, 0), nil
	}

	l2, err := NewRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.L1MaxEntries <= 0 {
		return l2, nil
	}
	return NewTieredCache(NewMemoryCache(cfg.L1MaxEntries, cfg.L1TTL), l2, cfg.L1TTL), nil
}

// Nop never stores anything; every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error { return nil }
func (Nop) InvalidatePattern(context.Context, string) error { return nil }
func (Nop) Close() error { return nil }
