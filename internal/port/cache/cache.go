// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotStored reports that a bounded cache refused a write. For Add it
// means the key's absence could not be established.
var ErrNotStored = errors.New("cache: value not stored")

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Add stores value only when key is absent. It reports whether the
	// value was stored; false means the key already existed.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
