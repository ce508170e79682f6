package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

const (
	DefaultLockKey = "ledger:writer"
	DefaultLockTTL = 30 * time.Second
	lockRetryDelay = 50 * time.Millisecond
)

var ErrLockNotObtained = errors.New("could not obtain ledger writer lock")

// LocalLock serializes writers inside one process.
type LocalLock struct {
	sem chan struct{}
}

func NewLocalLock() *LocalLock {
	return &LocalLock{sem: make(chan struct{}, 1)}
}

func (l *LocalLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedisLock serializes writers across processes sharing one store. The lease
// expires after ttl if the holder dies without releasing it.
type RedisLock struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

func NewRedisLock(client redislock.RedisClient, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{locker: redislock.New(client), key: key, ttl: ttl}
}

// Acquire retries until the lease is free, ctx is done or ttl has passed.
func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(lockRetryDelay),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, l.key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", l.key, err)
	}

	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
