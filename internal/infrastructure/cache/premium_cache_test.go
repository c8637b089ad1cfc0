package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPremiumCache_SetGetInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewPremiumCache(client, time.Minute)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "acc-1", true))
	premium, hit, err := c.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, premium)

	require.NoError(t, c.Set(ctx, "acc-2", false))
	premium, hit, err = c.Get(ctx, "acc-2")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.False(t, premium)

	require.NoError(t, c.Invalidate(ctx, "acc-1"))
	_, hit, err = c.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPremiumCache_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewPremiumCache(client, time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acc-1", true))
	mr.FastForward(2 * time.Second)

	_, hit, err := c.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPremiumCache_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, _, err := NewPremiumCache(client, time.Minute).Get(context.Background(), "acc-1")
	assert.Error(t, err)
}
