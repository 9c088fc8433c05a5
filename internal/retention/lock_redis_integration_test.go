//go:build integration

package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/retention"
	"custos/pkg/testutil/containers"
)

func TestRedisSweepLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	redis := containers.NewRedisContainer(t)
	ctx := context.Background()

	t.Run("single holder", func(t *testing.T) {
		require.NoError(t, redis.FlushAll(ctx))
		lock := retention.NewRedisSweepLock(redis.Client, time.Minute)

		release, ok, err := lock.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		// A second instance cannot acquire it while held.
		other := retention.NewRedisSweepLock(redis.Client, time.Minute)
		_, ok, err = other.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		release(ctx)
		_, ok, err = other.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("lease expires", func(t *testing.T) {
		require.NoError(t, redis.FlushAll(ctx))
		lock := retention.NewRedisSweepLock(redis.Client, 100*time.Millisecond)

		_, ok, err := lock.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(200 * time.Millisecond)

		_, ok, err = lock.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("stale release does not steal the lock", func(t *testing.T) {
		require.NoError(t, redis.FlushAll(ctx))
		first := retention.NewRedisSweepLock(redis.Client, 100*time.Millisecond)

		staleRelease, ok, err := first.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(200 * time.Millisecond)

		second := retention.NewRedisSweepLock(redis.Client, time.Minute)
		_, ok, err = second.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		// The lapsed holder's release must not free the new holder's lock.
		staleRelease(ctx)
		_, ok, err = first.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
