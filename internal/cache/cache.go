package cache

import (
	"context"
	"time"
)

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Locker hands out named mutual-exclusion locks that expire on their own.
type Locker interface {
	// Acquire blocks until the lock is held or wait elapses. The returned
	// release func is safe to call after the TTL has already expired.
	Acquire(ctx context.Context, name string, ttl, wait time.Duration) (release func(context.Context) error, err error)
}
