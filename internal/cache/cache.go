// Package cache holds the key-value cache port, its Redis adapter and the
// read-through tenant customization cache built on them.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is the minimal key-value contract the application needs. Values are
// strings; callers own serialization. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with ttl. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var ErrMiss = errors.New("cache: miss")
