package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCartRepo(t *testing.T, ttl time.Duration) (*RedisCartRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCartRepository(NewRedisCache(client), ttl), mr
}

func TestRedisCartRepository_SaveAndGet(t *testing.T) {
	repo, mr := newTestCartRepo(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "sess-1", domain.Cart{"7": 2, "12": 1}))

	cart, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Cart{"7": 2, "12": 1}, cart)
	assert.Equal(t, time.Hour, mr.TTL("cart:sess-1"))

	other, err := repo.Get(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, other.IsEmpty())
}

func TestRedisCartRepository_ExpiresWithSession(t *testing.T) {
	repo, mr := newTestCartRepo(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "sess-1", domain.Cart{"7": 1}))
	mr.FastForward(2 * time.Minute)

	cart, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestRedisCartRepository_ClearAndEmptySave(t *testing.T) {
	repo, mr := newTestCartRepo(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "sess-1", domain.Cart{"7": 1}))
	require.NoError(t, repo.Clear(ctx, "sess-1"))
	assert.False(t, mr.Exists("cart:sess-1"))

	require.NoError(t, repo.Save(ctx, "sess-1", domain.Cart{"7": 1}))
	require.NoError(t, repo.Save(ctx, "sess-1", domain.NewCart()))
	assert.False(t, mr.Exists("cart:sess-1"))

	// Clearing an unknown session is not an error
	require.NoError(t, repo.Clear(ctx, "missing"))
}

func TestRedisCartRepository_CorruptCartReadsEmpty(t *testing.T) {
	repo, mr := newTestCartRepo(t, time.Hour)
	require.NoError(t, mr.Set("cart:sess-1", `{"7":"two"}`))

	cart, err := repo.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestRedisCartRepository_RedisDown(t *testing.T) {
	repo, mr := newTestCartRepo(t, time.Hour)
	mr.Close()

	_, err := repo.Get(context.Background(), "sess-1")
	assert.Error(t, err)
}
