package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_SetNX(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	ok, err := cache.SetNX(ctx, "lock:1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.SetNX(ctx, "lock:1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var got string
	require.NoError(t, cache.Get(ctx, "lock:1", &got))
	assert.Equal(t, "a", got)

	require.NoError(t, cache.Delete(ctx, "lock:1"))
	assert.ErrorIs(t, cache.Get(ctx, "lock:1", &got), ErrCacheMiss)
}
