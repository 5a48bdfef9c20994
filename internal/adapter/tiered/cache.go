// Package tiered layers an in-process cache over a shared remote one.
package tiered

import (
	"context"
	"errors"
	"time"

	"github.com/promptdeck/promptdeck/internal/port/cache"
)

// Cache reads through an in-process L1 into a shared L2. The L1 is best
// effort: its failures never mask a usable L2 answer. The L2 is the
// layer other instances see, so writes land there first and deletes
// always reach it even when the L1 delete fails.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New combines l1 and l2. l1Expire bounds how long entries backfilled
// from L2 stay in L1; direct Sets use the caller's TTL.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get returns the first hit, preferring L1. An L2 hit is copied into L1
// so the next read stays in process.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, found, err := c.l1.Get(ctx, key); err == nil && found {
		return val, true, nil
	}

	val, found, err := c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	_ = c.l1.Set(ctx, key, val, c.l1Expire)
	return val, true, nil
}

// Set writes through both levels, the shared level first.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l1.Set(ctx, key, value, ttl)
}

// Delete removes key from both levels. Both deletes run even if one
// fails; a stale entry in the shared level would poison every instance.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return errors.Join(c.l1.Delete(ctx, key), c.l2.Delete(ctx, key))
}
