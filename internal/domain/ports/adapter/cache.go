package adapter

import (
	"context"
	"time"
)

// IdempotencyCache is a get/set-with-TTL store for idempotency keys.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Locker is a best-effort distributed mutex.
type Locker interface {
	// TryLock returns a token when the lock was acquired, or
	// domain.ErrLockNotAcquired when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}
