// Package natskv implements the cache port using NATS JetStream KV as the
// shared L2 cache, so multiple instances agree on active prompt versions
// without hitting Postgres on every lookup.
package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache wraps a JetStream KeyValue bucket. Expiry is configured on the
// bucket itself, so per-call TTLs are ignored.
type Cache struct {
	kv jetstream.KeyValue
}

func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// safeKey maps a cache key into the subject-safe alphabet JetStream KV
// accepts. The cache port allows arbitrary strings; KV keys may only
// contain alphanumerics and -/_=. so anything else becomes a dot.
func safeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '/', r == '_', r == '=', r == '.':
			return r
		default:
			return '.'
		}
	}, key)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, safeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, safeKey(key), value)
	return err
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, safeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
