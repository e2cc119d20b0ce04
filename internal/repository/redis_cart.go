package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/rs/zerolog/log"
)

const cartKeyPrefix = "cart:"

// RedisCartRepository implements domain.CartRepository. Each session owns one key that
// expires together with the session cookie.
type RedisCartRepository struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewRedisCartRepository(cache *RedisCache, ttl time.Duration) *RedisCartRepository {
	return &RedisCartRepository{
		cache: cache,
		ttl:   ttl,
	}
}

// Get returns the session's cart. Missing or unreadable carts come back empty.
func (r *RedisCartRepository) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	if sessionID == "" {
		return domain.NewCart(), nil
	}

	cart := domain.NewCart()
	err := r.cache.Get(ctx, cartKeyPrefix+sessionID, &cart)
	if err == nil {
		return cart, nil
	}
	if errors.Is(err, ErrCacheMiss) {
		return domain.NewCart(), nil
	}
	if errors.Is(err, ErrCacheCorrupt) {
		log.Warn().Str("component", "cart").Str("session_id", sessionID).Err(err).Msg("discarding unreadable cart")
		return domain.NewCart(), nil
	}
	return nil, err
}

// Save stores the cart and refreshes its TTL. An empty cart deletes the key.
func (r *RedisCartRepository) Save(ctx context.Context, sessionID string, cart domain.Cart) error {
	if cart.IsEmpty() {
		return r.Clear(ctx, sessionID)
	}
	return r.cache.Set(ctx, cartKeyPrefix+sessionID, cart, r.ttl)
}

func (r *RedisCartRepository) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return r.cache.Delete(ctx, cartKeyPrefix+sessionID)
}
