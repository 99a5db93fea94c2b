// Package lock provides a Redis-backed mutex used to serialise background
// recalculations of the same invoice.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript releases the key only when it still holds our token, so an
// expired lock taken over by another worker is never deleted by us.
const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Mutex is a best-effort distributed lock over SETNX.
type Mutex struct {
	Client       *redis.Client
	TTL          time.Duration
	RetryBackoff time.Duration
}

// WithLock runs fn while holding the named lock, retrying acquisition until
// the context is cancelled. The lock is released when fn returns; if the
// process dies the TTL reclaims it.
func (m Mutex) WithLock(ctx context.Context, name string, fn func(context.Context) error) error {
	if m.Client == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := m.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	token := uuid.NewString()

	for {
		ok, err := m.Client.SetNX(ctx, name, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer m.release(name, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (m Mutex) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = m.Client.Eval(ctx, unlockScript, []string{name}, token).Err()
}
