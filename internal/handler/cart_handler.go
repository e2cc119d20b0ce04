package handler

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/storefront/internal/middleware"
	"github.com/mansoorceksport/storefront/internal/service"
)

// CartManager is the cart surface used by CartHandler
type CartManager interface {
	Show(ctx context.Context, sessionID string) (*service.CartView, error)
	Add(ctx context.Context, sessionID string, productID int64) (*service.CartView, error)
	Remove(ctx context.Context, sessionID string, productID int64) (*service.CartView, error)
	Empty(ctx context.Context, sessionID string) error
}

// CartHandler handles the session cart endpoints
type CartHandler struct {
	carts CartManager
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(carts CartManager) *CartHandler {
	return &CartHandler{carts: carts}
}

// GetCart handles GET /v1/cart
func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	view, err := h.carts.Show(c.UserContext(), middleware.SessionID(c))
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    view,
	})
}

// AddItem handles POST /v1/cart/items/:id
func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	productID, err := productIDParam(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid product id")
	}

	view, err := h.carts.Add(c.UserContext(), middleware.SessionID(c), productID)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    view,
	})
}

// RemoveItem handles DELETE /v1/cart/items/:id
func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	productID, err := productIDParam(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid product id")
	}

	view, err := h.carts.Remove(c.UserContext(), middleware.SessionID(c), productID)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    view,
	})
}

// EmptyCart handles DELETE /v1/cart
func (h *CartHandler) EmptyCart(c *fiber.Ctx) error {
	if err := h.carts.Empty(c.UserContext(), middleware.SessionID(c)); err != nil {
		return failWith(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func productIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.ErrBadRequest
	}
	return id, nil
}
