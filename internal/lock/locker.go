// Package lock defines the short lived mutual exclusion used around slot mutations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 30 * time.Second

var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive ownership of a key for at most ttl.
//
// Acquire returns true only when this call took the lock. A backend failure
// returns false together with the error; callers must treat it as not acquired.
// Release is idempotent and safe to call after the lock expired.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

func SlotKey(slotID uuid.UUID) string {
	return "lock:slot:" + slotID.String()
}

// With runs fn while holding key. The lock is released on every path, using a
// context that survives cancellation of ctx.
func With(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ok, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return ErrNotAcquired
	}

	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.Release(relCtx, key)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(lockCtx)
}
