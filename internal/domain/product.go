package domain

import (
	"context"
	"time"
)

// Product is the catalog collaborator as seen by checkout. Price is in the smallest currency unit,
// Discount is a percentage and Count is the stock on hand.
type Product struct {
	ID        int64     `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Price     int64     `bson:"price" json:"price"`
	Discount  float64   `bson:"discount" json:"discount"`
	Count     int       `bson:"count" json:"count"`
	Enabled   bool      `bson:"enabled" json:"enabled"`
	CreatedAt time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

// Available reports whether the product can be put into a cart.
func (p *Product) Available() bool {
	return p.Enabled && p.Count > 0
}

// ProductRepository is the read/write surface of the catalog used by checkout and settlement.
type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*Product, error)
	// DecrementStock subtracts n from the stock only when at least n units remain.
	// It returns ErrStockShortfall otherwise.
	DecrementStock(ctx context.Context, id int64, n int) error
	Upsert(ctx context.Context, product *Product) error
}
