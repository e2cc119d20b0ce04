package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/middleware"
	"github.com/mansoorceksport/storefront/internal/service"
)

// InvoiceReader is the invoice history surface used by InvoiceHandler
type InvoiceReader interface {
	List(ctx context.Context, userID string) ([]*domain.Invoice, error)
	Get(ctx context.Context, userID, invoiceID string) (*service.InvoiceDetail, error)
}

// InvoiceHandler handles the shopper's invoice history
type InvoiceHandler struct {
	invoices InvoiceReader
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(invoices InvoiceReader) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

// ListInvoices handles GET /v1/me/invoices
func (h *InvoiceHandler) ListInvoices(c *fiber.Ctx) error {
	invoices, err := h.invoices.List(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    invoices,
	})
}

// GetInvoice handles GET /v1/me/invoices/:id
func (h *InvoiceHandler) GetInvoice(c *fiber.Ctx) error {
	detail, err := h.invoices.Get(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    detail,
	})
}
