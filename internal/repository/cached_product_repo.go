package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
)

const (
	productByIDKeyPrefix = "product:id:"
	productCacheTTL      = 30 * time.Second
)

// CachedProductRepository wraps a ProductRepository with a Redis read-through cache for single lookups.
// Batch lookups used for pricing always read the live catalog.
type CachedProductRepository struct {
	products domain.ProductRepository
	cache    *RedisCache
	ttl      time.Duration
}

// NewCachedProductRepository creates a new cached product repository
func NewCachedProductRepository(products domain.ProductRepository, cache *RedisCache) *CachedProductRepository {
	return &CachedProductRepository{
		products: products,
		cache:    cache,
		ttl:      productCacheTTL,
	}
}

// GetByID retrieves a product with caching
func (r *CachedProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	key := productKey(id)

	var product domain.Product
	if err := r.cache.Get(ctx, key, &product); err == nil {
		return &product, nil
	}

	result, err := r.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache errors are not fatal
	_ = r.cache.Set(ctx, key, result, r.ttl)

	return result, nil
}

// GetByIDs bypasses the cache
func (r *CachedProductRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	return r.products.GetByIDs(ctx, ids)
}

// DecrementStock updates the stock and invalidates the cached product.
// Inside a transaction a concurrent read can cache the old count again before the commit,
// so callers invalidate once more after committing.
func (r *CachedProductRepository) DecrementStock(ctx context.Context, id int64, n int) error {
	err := r.products.DecrementStock(ctx, id, n)
	_ = r.cache.Delete(ctx, productKey(id))
	return err
}

// Upsert writes the product and invalidates the cached copy
func (r *CachedProductRepository) Upsert(ctx context.Context, product *domain.Product) error {
	if err := r.products.Upsert(ctx, product); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, productKey(product.ID))
	return nil
}

// Invalidate drops the cached copies of the given products
func (r *CachedProductRepository) Invalidate(ctx context.Context, ids ...int64) {
	for _, id := range ids {
		_ = r.cache.Delete(ctx, productKey(id))
	}
}

func productKey(id int64) string {
	return productByIDKeyPrefix + strconv.FormatInt(id, 10)
}
