package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/logging"
	"github.com/mansoorceksport/storefront/internal/middleware"
	"github.com/mansoorceksport/storefront/internal/service"
	"github.com/mansoorceksport/storefront/internal/telemetry"
)

// Checkout is the checkout surface used by CheckoutHandler
type Checkout interface {
	Preview(ctx context.Context, sessionID string) (*domain.Pricing, error)
	Submit(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
}

// Settler verifies gateway callbacks
type Settler interface {
	Verify(ctx context.Context, params service.CallbackParams) (*service.SettlementResult, error)
}

// CheckoutHandler handles checkout submission and the gateway callback
type CheckoutHandler struct {
	checkout   Checkout
	settlement Settler
}

// NewCheckoutHandler creates a new CheckoutHandler
func NewCheckoutHandler(checkout Checkout, settlement Settler) *CheckoutHandler {
	return &CheckoutHandler{
		checkout:   checkout,
		settlement: settlement,
	}
}

// Preview handles GET /v1/checkout
func (h *CheckoutHandler) Preview(c *fiber.Ctx) error {
	pricing, err := h.checkout.Preview(c.UserContext(), middleware.SessionID(c))
	if err != nil {
		return failWith(c, err)
	}
	if pricing.IsEmpty() {
		return failWith(c, domain.ErrEmptyCart)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    pricing,
	})
}

// Submit handles POST /v1/checkout
// Accepts a urlencoded form or a JSON body with address and description.
// Browsers are redirected to the gateway, XHR clients receive the payment URL.
func (h *CheckoutHandler) Submit(c *fiber.Ctx) error {
	var form domain.CheckoutForm
	if err := c.BodyParser(&form); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.checkout.Submit(c.UserContext(), service.CheckoutRequest{
		SessionID:   middleware.SessionID(c),
		UserID:      middleware.UserID(c),
		Email:       middleware.Email(c),
		UserIP:      c.IP(),
		CallbackURL: c.BaseURL() + "/verify",
		Form:        form,
	})
	if err != nil {
		return failWith(c, err)
	}
	telemetry.SetSpanAttribute(c, "checkout.invoice_id", result.InvoiceID)

	if wantsJSON(c) {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success":     true,
			"invoice_id":  result.InvoiceID,
			"payment_url": result.PaymentURL,
			"amount":      result.Amount,
		})
	}
	return c.Redirect(result.PaymentURL, fiber.StatusFound)
}

// Verify handles GET /verify?Status=&Authority=
// This is the gateway callback and requires no authentication.
func (h *CheckoutHandler) Verify(c *fiber.Ctx) error {
	params := service.CallbackParams{
		Status:    c.Query("Status"),
		Authority: c.Query("Authority"),
	}

	logger := logging.Component("webhook").With().
		Str("authority", params.Authority).
		Str("status", params.Status).
		Logger()

	result, err := h.settlement.Verify(c.UserContext(), params)
	if err != nil {
		logger.Info().Err(err).Msg("callback not settled")
		return h.verifyFailure(c, params, err)
	}

	logger.Info().
		Str("invoice_id", result.InvoiceID).
		Int64("invoice_number", result.InvoiceNumber).
		Msg("callback settled")
	telemetry.SetSpanAttribute(c, "checkout.invoice_id", result.InvoiceID)

	return c.JSON(fiber.Map{
		"success":          true,
		"ref_id":           result.Ref,
		"amount":           result.Amount,
		"invoice_number":   result.InvoiceNumber,
		"stock_shortfalls": result.StockShortfalls,
	})
}

func (h *CheckoutHandler) verifyFailure(c *fiber.Ctx, params service.CallbackParams, err error) error {
	var rejection *domain.GatewayRejection

	switch {
	case errors.Is(err, domain.ErrPaymentCancelled) && params.Authority == "":
		return fail(c, fiber.StatusBadRequest, "Payment was cancelled!")
	case errors.Is(err, domain.ErrPaymentCancelled):
		return fail(c, fiber.StatusBadRequest, "Payment was canceled by the user.")
	case errors.Is(err, domain.ErrPaymentNotFound):
		return fail(c, fiber.StatusNotFound, "There is no payment document!")
	case errors.Is(err, domain.ErrGatewayTransport):
		return fail(c, fiber.StatusBadGateway, "Network error!")
	case errors.As(err, &rejection):
		return fail(c, fiber.StatusPaymentRequired, "Payment not verified!!")
	}
	return failWith(c, err)
}

func wantsJSON(c *fiber.Ctx) bool {
	return c.XHR() || strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}
