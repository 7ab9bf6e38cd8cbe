package cache

import (
	"context"
	"errors"
	"time"
)

// ttlReader reports the remaining lifetime of a key so L1 backfills never
// outlive the L2 entry.
type ttlReader interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// TieredCache reads through an in-process L1 to a shared L2 and backfills L1
// on L2 hits.
type TieredCache struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration
}

// NewTieredCache layers l1 over l2. l1TTL caps how long an entry lives in l1.
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *TieredCache) localTTL(ttl time.Duration) time.Duration {
	if c.l1TTL > 0 && (ttl <= 0 || ttl > c.l1TTL) {
		return c.l1TTL
	}
	return ttl
}

// Get checks L1, then L2
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.l1.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, err
	}

	data, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ttl := c.l1TTL
	if r, ok := c.l2.(ttlReader); ok {
		if remaining, err := r.TTL(ctx, key); err == nil && remaining > 0 {
			ttl = remaining
		}
	}
	_ = c.l1.Set(ctx, key, data, c.localTTL(ttl))
	return data, nil
}

// Set writes both levels
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes keys from both levels
func (c *TieredCache) Delete(ctx context.Context, keys ...string) error {
	return errors.Join(c.l1.Delete(ctx, keys...), c.l2.Delete(ctx, keys...))
}

// InvalidatePattern removes matching keys from both levels
func (c *TieredCache) InvalidatePattern(ctx context.Context, pattern string) error {
	return errors.Join(c.l1.InvalidatePattern(ctx, pattern), c.l2.InvalidatePattern(ctx, pattern))
}

// Close closes both levels
func (c *TieredCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}
