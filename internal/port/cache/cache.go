// Package cache defines the cache port used for active-version lookups.
package cache

import (
	"context"
	"time"
)

// Cache stores marshaled values under string keys. Implementations are
// layered: an in-process L1, a NATS KV L2 shared across instances, and a
// tiered composite of both. A miss is (nil, false, nil), never an error.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for at most ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
