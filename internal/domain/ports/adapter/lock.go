package adapter

import (
	"context"
	"time"
)

// Locker serializes webhook processing per payment across instances. TryLock
// reports false without blocking when another holder owns the key; the
// returned release func is safe to call once.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
