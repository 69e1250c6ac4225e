package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals that a key is absent. Adapters return it instead of their
// client-specific sentinel.
var ErrMiss = errors.New("cache: miss")

// Cache is the minimal key-value contract used by the service. Implementations
// must be safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss when key does not exist.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with ttl. A non-positive ttl means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
