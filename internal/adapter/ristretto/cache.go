// Package ristretto implements the cache port using dgraph-io/ristretto as
// the in-process L1 cache. The hot entry is the active prompt version per
// prompt name, read on every generation job dispatch.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache adapts a ristretto cache to the cache port. Cost equals the
// payload size so maxCostBytes bounds resident bytes, not entry count.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New sizes the cache for prompt version payloads, which run 1-4 KB of
// JSON each. NumCounters tracks admission frequency and wants roughly
// 10x the expected entry count.
func New(maxCostBytes int64) (*Cache, error) {
	counters := maxCostBytes / 1024 * 10
	if counters < 1<<10 {
		counters = 1 << 10
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied. Only needed in tests.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
