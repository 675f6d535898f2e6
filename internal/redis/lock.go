package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("clinician lock not acquired")
)

// Locker serializes booking writes for one clinician on one day.
type Locker interface {
	WithClinicianLock(ctx context.Context, clinicianID uuid.UUID, day string, fn func(ctx context.Context) error) error
}

type redisClinicianLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedisClinicianLocker creates a locker keyed per clinician and calendar
// day. A held lock is retried for up to wait before ErrLockNotAcquired.
func NewRedisClinicianLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisClinicianLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   25 * time.Millisecond,
	}
}

func lockKey(clinicianID uuid.UUID, day string) string {
	return fmt.Sprintf("lock:clinician:%s:%s", clinicianID.String(), day)
}

func (l *redisClinicianLocker) WithClinicianLock(ctx context.Context, clinicianID uuid.UUID, day string, fn func(ctx context.Context) error) error {
	key := lockKey(clinicianID, day)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release must run even if the caller's context is already done
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisClinicianLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire clinician lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisClinicianLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release clinician lock: %w", err)
	}
	return nil
}
