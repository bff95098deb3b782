package mutex_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/mutex"
)

func lockers(t *testing.T) map[string]mutex.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]mutex.Locker{
		"memory": mutex.NewMemory(),
		"redis":  mutex.NewRedis(client),
	}
}

func TestLockExcludesConcurrentAcquisition(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			guard, err := l.Lock(ctx, "room-lock", 50*time.Millisecond)
			require.NoError(t, err)
			require.NotNil(t, guard)

			tight, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err = l.Lock(tight, "room-lock", 50*time.Millisecond)
			require.Error(t, err, "a second caller must not acquire an already-held lease")

			require.NoError(t, l.Unlock(ctx, guard))
		})
	}
}

func TestUnlockIsNoOpForAStolenOrExpiredLease(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			guard, err := l.Lock(ctx, "group-lock", 10*time.Millisecond)
			require.NoError(t, err)

			time.Sleep(20 * time.Millisecond)

			other, err := l.Lock(ctx, "group-lock", time.Second)
			require.NoError(t, err, "lease must be acquirable again once it expires")

			// The original (stale) guard must not be able to release the new
			// holder's lease: its fencing token no longer matches.
			require.NoError(t, l.Unlock(ctx, guard))

			tight, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err = l.Lock(tight, "group-lock", time.Second)
			require.Error(t, err, "the new holder's lease must still be held after the stale guard's Unlock")

			require.NoError(t, l.Unlock(ctx, other))
		})
	}
}

func TestWithLockReleasesAfterFn(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ran := false
			err := mutex.WithLock(ctx, l, "wl-key", func(context.Context) error {
				ran = true
				return nil
			})
			require.NoError(t, err)
			require.True(t, ran)

			// Lock must be free again now.
			guard, err := l.Lock(ctx, "wl-key", time.Second)
			require.NoError(t, err)
			require.NoError(t, l.Unlock(ctx, guard))
		})
	}
}
