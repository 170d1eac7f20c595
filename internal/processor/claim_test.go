package processor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/whatsapp-simulator/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(context.Background(), t.Name(), "test:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return mr, adapter
}

func TestClaimService_ClaimAndRelease(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	service := NewClaimService(adapter, DefaultClaimConfig())
	ctx := context.Background()

	token, ok, err := service.Claim(ctx, "wh-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	assert.True(t, mr.Exists("test:webhook:lock:wh-1"))

	t.Run("second claim is refused", func(t *testing.T) {
		_, ok, err := service.Claim(ctx, "wh-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("other records are independent", func(t *testing.T) {
		_, ok, err := service.Claim(ctx, "wh-2")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	require.NoError(t, service.Release(ctx, "wh-1", token))

	_, ok, err = service.Claim(ctx, "wh-1")
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after release")
}

func TestClaimService_ReleaseWithStaleToken(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	service := NewClaimService(adapter, ClaimConfig{LockTTL: time.Second})
	ctx := context.Background()

	stale, ok, err := service.Claim(ctx, "wh-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = service.Claim(ctx, "wh-1")
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken over")

	require.NoError(t, service.Release(ctx, "wh-1", stale))

	assert.True(t, mr.Exists("test:webhook:lock:wh-1"), "stale holder must not free the new lock")
}

func TestDefaultClaimConfig(t *testing.T) {
	service := NewClaimService(nil, ClaimConfig{})
	assert.Equal(t, 30*time.Second, service.config.LockTTL)
	assert.Equal(t, "webhook:lock:", service.config.LockKeyPrefix)
}
