package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/slot-booking-core/internal/lock"
)

// SlotLocker is a lock.Locker backed by one redis key per lock.
// Each acquisition writes a random owner token; release only deletes the key
// while it still carries that token.
type SlotLocker struct {
	client redis.Cmdable
	tokens sync.Map // key -> token
}

var _ lock.Locker = (*SlotLocker)(nil)

func NewSlotLocker(client redis.Cmdable) *SlotLocker {
	return &SlotLocker{client: client}
}

func (l *SlotLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	l.tokens.Store(key, token)
	return true, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *SlotLocker) Release(ctx context.Context, key string) error {
	v, ok := l.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}

	_, err := unlockScript.Run(ctx, l.client, []string{key}, v.(string)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}
