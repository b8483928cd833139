// Package lease provides short-lived per-key mutual exclusion across processes.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const retryInterval = 50 * time.Millisecond

// Locker hands out exclusive leases on keys.
type Locker interface {
	// Lock blocks until the lease on key is held or ctx is done.
	Lock(ctx context.Context, key string) (Release, error)
}

// Release gives a lease back.
type Release func(ctx context.Context) error

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker coordinates leases through SET NX with an expiry.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Release, error) {
	redisKey := l.key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lease acquire: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
					return fmt.Errorf("lease release: %w", err)
				}
				return nil
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lease acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) key(key string) string {
	if l.prefix == "" {
		return "lease:" + key
	}
	return fmt.Sprintf("%s:lease:%s", l.prefix, key)
}

// LocalLocker serializes leases within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker constructs an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Release, error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			done := make(chan struct{})
			l.locks[key] = done
			l.mu.Unlock()
			return func(context.Context) error {
				l.mu.Lock()
				delete(l.locks, key)
				l.mu.Unlock()
				close(done)
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lease acquire %s: %w", key, ctx.Err())
		case <-held:
		}
	}
}
