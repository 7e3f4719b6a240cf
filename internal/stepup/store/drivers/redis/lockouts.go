// Package redis provides a Redis-backed lockout counter store so multiple
// stepup processes can share one failure-accounting arena. Only the Lockouts
// slice of the store contract lives here; durable entities stay in sqlite.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/clockx"
	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix = "stepup:fail:"
	lockKeyPrefix = "stepup:lock:"
)

// LockoutStore implements store.Lockouts on Redis. Failure counters use
// INCR with a window TTL set on first increment; the lock itself is a keyed
// value whose TTL is the remaining lockout.
type LockoutStore struct {
	rdb   *redis.Client
	clock clockx.Clock
}

func NewLockoutStore(rdb *redis.Client, clock clockx.Clock) *LockoutStore {
	if clock == nil {
		clock = clockx.System{}
	}
	return &LockoutStore{rdb: rdb, clock: clock}
}

func (s *LockoutStore) GetLockout(ctx context.Context, key string) (domain.Lockout, error) {
	now := s.clock.Now()

	failures, err := s.rdb.Get(ctx, failKeyPrefix+key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Lockout{}, fmt.Errorf("redis get failures: %w", err)
	}

	lockTTL, err := s.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return domain.Lockout{}, fmt.Errorf("redis lock ttl: %w", err)
	}

	windowTTL, err := s.rdb.PTTL(ctx, failKeyPrefix+key).Result()
	if err != nil {
		return domain.Lockout{}, fmt.Errorf("redis window ttl: %w", err)
	}

	if failures == 0 && lockTTL <= 0 {
		return domain.Lockout{}, store.ErrNotFound
	}

	l := domain.Lockout{
		Key:       key,
		Failures:  failures,
		UpdatedAt: now,
	}
	if windowTTL > 0 {
		l.WindowExpiresAt = now.Add(windowTTL)
	}
	if lockTTL > 0 {
		l.LockedUntil = now.Add(lockTTL)
	}
	return l, nil
}

func (s *LockoutStore) RecordFailure(ctx context.Context, key string, p store.LockoutPolicy, now time.Time) (domain.Lockout, error) {
	failKey := failKeyPrefix + key

	failures, err := s.rdb.Incr(ctx, failKey).Result()
	if err != nil {
		return domain.Lockout{}, fmt.Errorf("redis incr failures: %w", err)
	}

	// First failure in a fresh window owns the window TTL.
	if failures == 1 {
		if err := s.rdb.Expire(ctx, failKey, p.Window).Err(); err != nil {
			return domain.Lockout{}, fmt.Errorf("redis expire window: %w", err)
		}
	}

	l := domain.Lockout{
		Key:             key,
		Failures:        int(failures),
		WindowExpiresAt: now.Add(p.Window),
		UpdatedAt:       now,
	}

	if int(failures) >= p.Threshold {
		if err := s.rdb.Set(ctx, lockKeyPrefix+key, 1, p.LockFor).Err(); err != nil {
			return domain.Lockout{}, fmt.Errorf("redis set lock: %w", err)
		}
		l.LockedUntil = now.Add(p.LockFor)
		return l, nil
	}

	lockTTL, err := s.rdb.PTTL(ctx, lockKeyPrefix+key).Result()
	if err != nil {
		return domain.Lockout{}, fmt.Errorf("redis lock ttl: %w", err)
	}
	if lockTTL > 0 {
		l.LockedUntil = now.Add(lockTTL)
	}
	return l, nil
}

func (s *LockoutStore) ClearLockout(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, failKeyPrefix+key, lockKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis clear lockout: %w", err)
	}
	return nil
}

// DeleteExpiredLockouts is a no-op: Redis key TTLs already expire counters.
func (s *LockoutStore) DeleteExpiredLockouts(ctx context.Context, now time.Time) error {
	return nil
}
