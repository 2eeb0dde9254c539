package tenant_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/voicestock/tenant"
)

// exerciseLocker runs n read-modify-write cycles on one key and reports the
// final counter and the highest concurrency observed inside the lock.
func exerciseLocker(t *testing.T, l tenant.Locker, n int) (counter int, maxInside int32) {
	t.Helper()
	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "tenant-1", func(context.Context) error {
				cur := atomic.AddInt32(&inside, 1)
				for {
					old := atomic.LoadInt32(&maxInside)
					if cur <= old || atomic.CompareAndSwapInt32(&maxInside, old, cur) {
						break
					}
				}
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	return counter, maxInside
}

func TestLocalLocks_SerializesSameTenant(t *testing.T) {
	// GIVEN: 30 concurrent read-modify-write cycles on one tenant
	// THEN: no update is lost and never two run at once

	locks := tenant.NewLocalLocks()

	counter, maxInside := exerciseLocker(t, locks, 30)

	assert.Equal(t, 30, counter)
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locks.Len(), "idle keys are dropped")
}

func TestLocalLocks_ReleasesOnErrorAndPanic(t *testing.T) {
	locks := tenant.NewLocalLocks()
	ctx := context.Background()
	boom := errors.New("boom")

	err := locks.WithLock(ctx, "t", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = locks.WithLock(ctx, "t", func(context.Context) error { panic("bad row") })
	})

	ran := false
	err = locks.WithLock(ctx, "t", func(context.Context) error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, locks.Len())
}

func TestLocalLocks_WaiterHonoursContext(t *testing.T) {
	locks := tenant.NewLocalLocks()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locks.WithLock(context.Background(), "t", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locks.WithLock(ctx, "t", func(context.Context) error {
		t.Error("must not run while the lock is held")
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocks_TenantsAreIndependent(t *testing.T) {
	locks := tenant.NewLocalLocks()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locks.WithLock(context.Background(), "a", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ran := false
	err := locks.WithLock(ctx, "b", func(context.Context) error { ran = true; return nil })

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRedisLocks_SerializesSameTenant(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	logger, _ := test.NewNullLogger()
	locks := tenant.NewRedisLocks(client, 5*time.Second, logger)

	counter, maxInside := exerciseLocker(t, locks, 10)

	assert.Equal(t, 10, counter)
	assert.Equal(t, int32(1), maxInside)
}
