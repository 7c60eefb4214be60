//go:build integration

package dpop_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"authed/internal/dpop"
	"authed/pkg/testutil/containers"
)

func TestRedisReplayCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	cache := dpop.NewRedisReplayCache(rc.Client)

	t.Run("first sighting is remembered", func(t *testing.T) {
		fresh, err := cache.Remember(ctx, uuid.NewString(), time.Minute)
		require.NoError(t, err)
		require.True(t, fresh)
	})

	t.Run("repeat within the window is a replay", func(t *testing.T) {
		jti := uuid.NewString()

		fresh, err := cache.Remember(ctx, jti, time.Minute)
		require.NoError(t, err)
		require.True(t, fresh)

		fresh, err = cache.Remember(ctx, jti, time.Minute)
		require.NoError(t, err)
		require.False(t, fresh)
	})

	t.Run("jti is reusable after the window lapses", func(t *testing.T) {
		jti := uuid.NewString()

		fresh, err := cache.Remember(ctx, jti, time.Second)
		require.NoError(t, err)
		require.True(t, fresh)

		require.Eventually(t, func() bool {
			fresh, err := cache.Remember(ctx, jti, time.Second)
			return err == nil && fresh
		}, 5*time.Second, 200*time.Millisecond)
	})
}
