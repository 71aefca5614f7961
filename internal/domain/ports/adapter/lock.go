package adapter

import (
	"context"
	"time"
)

// Locker serializes work on a key across processes.
// TryLock returns domain.ErrLocked when the key is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
