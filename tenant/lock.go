package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/books"
)

// =============================================================================
// LOCKER - One writer per tenant document at a time
// =============================================================================

// Locker serializes mutations per tenant key. fn runs with exclusive
// access and the lock is released on every exit path, panics included.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// LocalLocks is an in-process Locker. Entries exist only while someone
// holds or waits for them.
type LocalLocks struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{locks: make(map[string]*localLock)}
}

func (l *LocalLocks) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lk := l.ref(key)
	defer l.unref(key, lk)

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lk.sem }()

	return fn(ctx)
}

// Len reports how many tenant keys currently have holders or waiters.
func (l *LocalLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *LocalLocks) ref(key string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	return lk
}

func (l *LocalLocks) unref(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

// =============================================================================
// REDIS LOCKS - Cross-process variant
// =============================================================================

// RedisLocks extends LocalLocks across processes sharing one Redis.
// In-process callers queue on the local lock first, so only one request
// per process polls Redis for a given tenant.
type RedisLocks struct {
	local  *LocalLocks
	client *redislock.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

const (
	lockKeyPrefix = "voicestock:lock:"
	lockRetryStep = 100 * time.Millisecond
)

// NewRedisLocks uses client (a *redis.Client) for the shared lock. ttl bounds
// how long a crashed holder can block other processes and is refreshed
// while fn runs.
func NewRedisLocks(client redislock.RedisClient, ttl time.Duration, log logrus.FieldLogger) *RedisLocks {
	return &RedisLocks{
		local:  NewLocalLocks(),
		client: redislock.New(client),
		ttl:    ttl,
		log:    log,
	}
}

func (r *RedisLocks) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return r.local.WithLock(ctx, key, func(ctx context.Context) error {
		retry := redislock.LimitRetry(redislock.LinearBackoff(lockRetryStep), int(r.ttl/lockRetryStep))
		lock, err := r.client.Obtain(ctx, lockKeyPrefix+key, r.ttl, &redislock.Options{RetryStrategy: retry})
		if errors.Is(err, redislock.ErrNotObtained) {
			return fmt.Errorf("%w: tenant is busy", books.ErrTransientBackend)
		}
		if err != nil {
			return fmt.Errorf("%w: obtain lock: %v", books.ErrTransientBackend, err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.WithError(err).WithField("tenant", key).Warn("failed to release tenant lock")
			}
		}()

		stop := r.keepAlive(ctx, lock, key)
		defer stop()
		return fn(ctx)
	})
}

// keepAlive refreshes the lock at half its TTL until stop is called.
func (r *RedisLocks) keepAlive(ctx context.Context, lock *redislock.Lock, key string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := lock.Refresh(ctx, r.ttl, nil); err != nil {
					r.log.WithError(err).WithField("tenant", key).Warn("failed to refresh tenant lock")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
