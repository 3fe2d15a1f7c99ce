// Package kv is the key-value store used for tokens, sessions and rate
// limit state. Values are strings; structured values go through GetJSON and
// SetJSON.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

// NoExpiry is returned by TTL for a key that exists without an expiry.
const NoExpiry time.Duration = -1

// Store is implemented by the Redis and in-memory drivers. A ttl <= 0 on
// writes means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)

	// Incr adds one to the integer at key and returns the new value. When
	// the key is created by this call it expires after ttl; an existing
	// key keeps its expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime, NoExpiry, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Keys returns every key matching a glob pattern where '*' matches any
	// run of characters. It walks the whole keyspace.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
