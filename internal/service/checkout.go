package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/logging"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CheckoutRequest is everything Submit needs besides the cart.
type CheckoutRequest struct {
	SessionID   string
	UserID      string
	Email       string
	UserIP      string
	CallbackURL string // used when no callback URL is configured
	Form        domain.CheckoutForm
}

// CheckoutResult points the shopper at the gateway's payment page.
type CheckoutResult struct {
	InvoiceID  string `json:"invoice_id"`
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
	Amount     int64  `json:"amount"`
}

// CheckoutService turns a session cart into an invoice and a pending payment
type CheckoutService struct {
	carts       domain.CartRepository
	products    domain.ProductRepository
	invoices    domain.InvoiceRepository
	payments    domain.PaymentRepository
	tx          domain.Transactor
	gateway     PaymentGateway
	vatRate     decimal.Decimal
	callbackURL string
	logger      zerolog.Logger
}

func NewCheckoutService(
	carts domain.CartRepository,
	products domain.ProductRepository,
	invoices domain.InvoiceRepository,
	payments domain.PaymentRepository,
	tx domain.Transactor,
	gateway PaymentGateway,
	vatRate float64,
	callbackURL string,
) *CheckoutService {
	return &CheckoutService{
		carts:       carts,
		products:    products,
		invoices:    invoices,
		payments:    payments,
		tx:          tx,
		gateway:     gateway,
		vatRate:     decimal.NewFromFloat(vatRate),
		callbackURL: callbackURL,
		logger:      logging.Component("checkout"),
	}
}

// Preview prices the session's cart for the checkout page.
func (s *CheckoutService) Preview(ctx context.Context, sessionID string) (*domain.Pricing, error) {
	cart, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	pricing, err := priceCart(ctx, s.products, cart, s.vatRate, s.logger)
	if err != nil {
		return nil, err
	}
	return &pricing, nil
}

// Submit creates the invoice, its items and a pending payment in one transaction, then asks the
// gateway for a payment session. The cart is left untouched; it is cleared only on settlement.
func (s *CheckoutService) Submit(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.UserID == "" {
		return nil, domain.ErrForbidden
	}
	if err := req.Form.Validate(); err != nil {
		return nil, err
	}

	pricing, err := s.Preview(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	invoice, err := domain.BuildInvoice(req.UserID, req.Form, *pricing)
	if err != nil {
		return nil, err
	}

	var payment *domain.Payment
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.invoices.Create(ctx, invoice); err != nil {
			return err
		}
		payment = &domain.Payment{
			InvoiceID:   invoice.ID,
			UserID:      req.UserID,
			Total:       invoice.PayableTotal(),
			Status:      domain.PaymentStatusPending,
			Description: fmt.Sprintf("invoice, No. %s", invoice.ID),
			UserIP:      req.UserIP,
			SessionID:   req.SessionID,
		}
		return s.payments.Create(ctx, payment)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	logger := s.logger.With().
		Str("invoice_id", invoice.ID).
		Str("payment_id", payment.ID).
		Str("user_id", req.UserID).
		Logger()
	logger.Info().Str("total", payment.Total.String()).Int("items", len(invoice.Items)).Msg("invoice created")

	callbackURL := s.callbackURL
	if callbackURL == "" {
		callbackURL = req.CallbackURL
	}

	auth, err := s.gateway.Authorize(ctx, AuthorizeRequest{
		Amount:      payment.Amount(),
		Description: payment.Description,
		CallbackURL: callbackURL,
		Email:       req.Email,
	})
	if err != nil {
		s.failAuthorization(ctx, logger, payment, err)
		return nil, err
	}

	if err := s.payments.SetAuthority(ctx, payment.ID, auth.Authority); err != nil {
		// The payment stays pending without an authority until the sweeper expires it
		logger.Error().Err(err).Msg("failed to store gateway authority")
		return nil, fmt.Errorf("failed to store gateway authority: %w", err)
	}

	logger.Info().Str("authority", auth.Authority).Msg("payment authorized, redirecting to gateway")
	return &CheckoutResult{
		InvoiceID:  invoice.ID,
		PaymentID:  payment.ID,
		PaymentURL: auth.RedirectURL,
		Amount:     payment.Amount(),
	}, nil
}

// failAuthorization marks the payment as error after a failed authorize call.
func (s *CheckoutService) failAuthorization(ctx context.Context, logger zerolog.Logger, payment *domain.Payment, cause error) {
	update := domain.PaymentUpdate{}

	var rejection *domain.GatewayRejection
	if errors.As(cause, &rejection) {
		update.ErrorCode = rejection.Code
		update.ErrorMessage = rejection.Message
	} else {
		update.ErrorCode = domain.ErrorCodeConnection
		update.ErrorMessage = fmt.Sprintf("error in connection to payment gateway: %v", cause)
	}

	logger.Warn().Err(cause).Str("error_code", update.ErrorCode).Msg("gateway authorization failed")

	// Detach from the request so a timed-out caller still gets the payment marked
	markCtx := context.WithoutCancel(ctx)
	if err := s.payments.Transition(markCtx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusError, update); err != nil {
		logger.Error().Err(err).Msg("failed to mark payment as error")
	}
}
