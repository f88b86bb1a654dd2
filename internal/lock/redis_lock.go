package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is still held by someone else when ctx expires.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out short-lived exclusive leases on string keys, shared across processes.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewLocker builds a locker whose leases expire after ttl unless released first.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, prefix: "lock:", ttl: ttl, retry: 25 * time.Millisecond}
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	l     *Locker
	key   string
	token string
}

// TryAcquire makes a single attempt.
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{l: l, key: l.prefix + key, token: token}, nil
}

// Acquire retries until the lock is free or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	for {
		lease, err := l.TryAcquire(ctx, key)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-time.After(l.retry):
		}
	}
}

// WithLock runs fn while holding key.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// Release frees the lock only if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	return releaseScript.Run(ctx, le.l.client, []string{le.key}, le.token).Err()
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
