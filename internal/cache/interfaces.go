package cache

import (
	"context"
	"time"
)

// Cache is the hot cache in front of the persistent store: last-good server
// payloads on the read path and the synchronizer's verified-token marker.
// This abstraction allows swapping between memory cache (single terminal)
// and Redis (several terminals sharing one till server) without changing
// the read path or the synchronizer.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from the cache.
	Clear(ctx context.Context) error

	// Close releases cache resources.
	Close() error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
