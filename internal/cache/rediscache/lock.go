package rediscache

import (
	"context"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if we still own it, so an expired lock
// re-acquired by someone else is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	c     *redis.Client
	retry time.Duration
}

func NewLocker(c *redis.Client) *Locker {
	return &Locker{c: c, retry: 50 * time.Millisecond}
}

func (l *Locker) Acquire(ctx context.Context, name string, ttl, wait time.Duration) (func(context.Context) error, error) {
	key := "lock:" + name
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis lock")
		}
		if ok {
			return func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, l.c, []string{key}, token).Err(); err != nil && err != redis.Nil {
					return errors.Wrap(err, "redis unlock")
				}
				return nil
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, &models.LockTimeoutError{Key: name, Wait: wait.String()}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
