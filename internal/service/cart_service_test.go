package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartService(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedCatalog(store)
	store.addProduct(&domain.Product{ID: 3, Name: "Hidden", Price: 10, Count: 5, Enabled: false})
	store.addProduct(&domain.Product{ID: 4, Name: "Sold out", Price: 10, Count: 0, Enabled: true})

	svc := NewCartService(memCarts{store}, memProducts{store}, 9)

	t.Run("add available product", func(t *testing.T) {
		view, err := svc.Add(ctx, "s1", 1)
		require.NoError(t, err)
		assert.Equal(t, domain.Cart{"1": 1}, view.Items)

		view, err = svc.Add(ctx, "s1", 2)
		require.NoError(t, err)
		view, err = svc.Add(ctx, "s1", 2)
		require.NoError(t, err)
		assert.Equal(t, domain.Cart{"1": 1, "2": 2}, view.Items)
		assert.Equal(t, domain.Cart{"1": 1, "2": 2}, store.cart("s1"))
	})

	t.Run("show prices the cart", func(t *testing.T) {
		view, err := svc.Show(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, view.Pricing.Subtotal.Equal(dec("200")))
		assert.True(t, view.Pricing.DiscountTotal.Equal(dec("20")))
		assert.True(t, view.Pricing.VATAmount.Equal(dec("16.2")))
		assert.True(t, view.Pricing.GrandTotal.Equal(dec("196.2")))
	})

	t.Run("unavailable products leave the cart unchanged", func(t *testing.T) {
		view, err := svc.Add(ctx, "s1", 3)
		require.NoError(t, err)
		assert.NotContains(t, view.Items, "3")

		view, err = svc.Add(ctx, "s1", 4)
		require.NoError(t, err)
		assert.NotContains(t, view.Items, "4")
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := svc.Add(ctx, "s1", 404)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("deleted products are skipped but kept", func(t *testing.T) {
		require.NoError(t, memCarts{store}.Save(ctx, "s2", domain.Cart{"1": 1, "99": 3}))

		view, err := svc.Show(ctx, "s2")
		require.NoError(t, err)
		assert.Equal(t, []string{"99"}, view.Pricing.Skipped)
		assert.Len(t, view.Pricing.Lines, 1)
		assert.Contains(t, store.cart("s2"), "99")
	})

	t.Run("remove and empty", func(t *testing.T) {
		view, err := svc.Remove(ctx, "s1", 2)
		require.NoError(t, err)
		assert.Equal(t, domain.Cart{"1": 1}, view.Items)

		require.NoError(t, svc.Empty(ctx, "s1"))
		assert.True(t, store.cart("s1").IsEmpty())
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		_, err := svc.Add(ctx, "s3", 1)
		require.NoError(t, err)
		view, err := svc.Show(ctx, "s4")
		require.NoError(t, err)
		assert.True(t, view.Items.IsEmpty())
		assert.True(t, view.Pricing.IsEmpty())
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		store.failCartGet = errors.New("redis down")
		defer func() { store.failCartGet = nil }()

		_, err := svc.Show(ctx, "s1")
		assert.Error(t, err)
	})
}
