package service

import (
	"context"
	"fmt"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/logging"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CartView is a cart together with its live quote.
type CartView struct {
	Items   domain.Cart    `json:"items"`
	Pricing domain.Pricing `json:"pricing"`
}

// CartService manages the per-session cart
type CartService struct {
	carts    domain.CartRepository
	products domain.ProductRepository
	vatRate  decimal.Decimal
	logger   zerolog.Logger
}

func NewCartService(carts domain.CartRepository, products domain.ProductRepository, vatRate float64) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		vatRate:  decimal.NewFromFloat(vatRate),
		logger:   logging.Component("cart"),
	}
}

// Show returns the session's cart priced against the current catalog.
func (s *CartService) Show(ctx context.Context, sessionID string) (*CartView, error) {
	cart, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	pricing, err := s.quote(ctx, cart)
	if err != nil {
		return nil, err
	}
	return &CartView{Items: cart, Pricing: pricing}, nil
}

// Add puts one unit of the product into the cart. Disabled and out-of-stock products leave the cart unchanged.
func (s *CartService) Add(ctx context.Context, sessionID string, productID int64) (*CartView, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	cart, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	if domain.AddToCart(cart, product) {
		if err := s.carts.Save(ctx, sessionID, cart); err != nil {
			return nil, fmt.Errorf("failed to save cart: %w", err)
		}
	} else {
		s.logger.Debug().Int64("product_id", productID).Msg("product unavailable, cart unchanged")
	}

	pricing, err := s.quote(ctx, cart)
	if err != nil {
		return nil, err
	}
	return &CartView{Items: cart, Pricing: pricing}, nil
}

// Remove drops the product's line from the cart.
func (s *CartService) Remove(ctx context.Context, sessionID string, productID int64) (*CartView, error) {
	cart, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	domain.RemoveFromCart(cart, productID)
	if err := s.carts.Save(ctx, sessionID, cart); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}

	pricing, err := s.quote(ctx, cart)
	if err != nil {
		return nil, err
	}
	return &CartView{Items: cart, Pricing: pricing}, nil
}

// Empty clears the session's cart.
func (s *CartService) Empty(ctx context.Context, sessionID string) error {
	if err := s.carts.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (s *CartService) quote(ctx context.Context, cart domain.Cart) (domain.Pricing, error) {
	return priceCart(ctx, s.products, cart, s.vatRate, s.logger)
}

// priceCart loads the products referenced by the cart and quotes it.
func priceCart(ctx context.Context, products domain.ProductRepository, cart domain.Cart, vatRate decimal.Decimal, logger zerolog.Logger) (domain.Pricing, error) {
	catalog, err := products.GetByIDs(ctx, cart.ProductIDs())
	if err != nil {
		return domain.Pricing{}, fmt.Errorf("failed to load products: %w", err)
	}

	pricing := domain.Quote(cart, catalog, vatRate)
	if len(pricing.Skipped) > 0 {
		logger.Warn().Strs("skipped", pricing.Skipped).Msg("cart references unknown products")
	}
	return pricing, nil
}
