package domain

import (
	"context"
	"sort"
	"strconv"
)

// Cart maps a string-encoded product id to a positive quantity.
// It lives only as long as the browsing session that owns it.
type Cart map[string]int

// NewCart returns an empty cart.
func NewCart() Cart {
	return Cart{}
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c) == 0
}

// ProductIDs returns the integer ids referenced by the cart in ascending order.
// Keys that are not integers are skipped.
func (c Cart) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c))
	for key := range c {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns an independent copy of the cart.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// CartKey encodes a product id as a cart key.
func CartKey(productID int64) string {
	return strconv.FormatInt(productID, 10)
}

// AddToCart adds one unit of the product. Disabled or out-of-stock products are ignored.
// It reports whether the cart changed.
func AddToCart(cart Cart, product *Product) bool {
	if product == nil || !product.Available() {
		return false
	}
	cart[CartKey(product.ID)]++
	return true
}

// RemoveFromCart drops the line for the product id, if present.
func RemoveFromCart(cart Cart, productID int64) {
	delete(cart, CartKey(productID))
}

// EmptyCart returns a cart with no lines.
func EmptyCart() Cart {
	return NewCart()
}

// CartRepository stores carts keyed by an opaque session id.
type CartRepository interface {
	// Get returns the cart for the session; an unknown session yields an empty cart.
	Get(ctx context.Context, sessionID string) (Cart, error)
	Save(ctx context.Context, sessionID string, cart Cart) error
	Clear(ctx context.Context, sessionID string) error
}
