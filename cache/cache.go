// Package cache provides a small read-through cache used to keep hot
// workflow definitions off the persistence path. Two implementations
// ship: an in-process Memory cache and a Redis-backed cache for
// multi-process deployments.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys with a TTL.
// A Get miss is reported via the found flag, not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
