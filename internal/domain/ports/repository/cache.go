package repository

import (
	"context"
	"time"
)

// KeyValueStore is a shared cache. Get returns found=false on a miss.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
}

// Locker guards a critical section across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
