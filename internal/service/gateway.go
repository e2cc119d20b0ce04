package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mansoorceksport/storefront/internal/config"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/infrastructure/zarinpal"
	"github.com/mansoorceksport/storefront/internal/logging"
	"github.com/oklog/ulid/v2"
)

// AuthorizeRequest opens a gateway payment session for one payment.
type AuthorizeRequest struct {
	Amount      int64
	Description string
	CallbackURL string
	Email       string
}

// Authorization is the gateway's answer to a successful authorize call.
type Authorization struct {
	Authority   string
	RedirectURL string
}

// Verification is the gateway's answer to a successful verify call.
type Verification struct {
	Ref  string
	Code int
}

// PaymentGateway is a redirect-based acquirer: authorize, send the shopper away, verify on return.
// Gateway verdicts are returned as *domain.GatewayRejection; anything else wraps domain.ErrGatewayTransport.
type PaymentGateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	Verify(ctx context.Context, authority string, amount int64) (*Verification, error)
}

// NewPaymentGateway returns the ZarinPal adapter, or a mock gateway when no merchant id is configured.
func NewPaymentGateway(cfg config.GatewayConfig) PaymentGateway {
	logger := logging.Component("gateway")
	if cfg.MerchantID == "" {
		logger.Warn().Msg("using mock payment gateway (no merchant id configured)")
		return &MockGateway{StartPayURL: cfg.StartPayURL}
	}

	logger.Info().Str("request_url", cfg.RequestURL).Msg("using ZarinPal payment gateway")
	client := zarinpal.NewClient(zarinpal.Config{
		MerchantID:  cfg.MerchantID,
		RequestURL:  cfg.RequestURL,
		VerifyURL:   cfg.VerifyURL,
		StartPayURL: cfg.StartPayURL,
		Timeout:     cfg.Timeout,
	})
	return NewZarinpalGateway(client, cfg.Currency)
}

// ZarinpalGateway adapts the zarinpal.Client to PaymentGateway
type ZarinpalGateway struct {
	client   *zarinpal.Client
	currency string
}

func NewZarinpalGateway(client *zarinpal.Client, currency string) *ZarinpalGateway {
	return &ZarinpalGateway{client: client, currency: currency}
}

func (g *ZarinpalGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	var metadata map[string]string
	if req.Email != "" {
		metadata = map[string]string{"email": req.Email}
	}

	result, err := g.client.RequestPayment(ctx, zarinpal.PaymentRequest{
		Amount:      req.Amount,
		Currency:    g.currency,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, translateGatewayError(domain.PhaseAuthorize, err)
	}

	return &Authorization{
		Authority:   result.Authority,
		RedirectURL: g.client.StartPayURL(result.Authority),
	}, nil
}

func (g *ZarinpalGateway) Verify(ctx context.Context, authority string, amount int64) (*Verification, error) {
	result, err := g.client.Verify(ctx, zarinpal.VerifyRequest{
		Amount:    amount,
		Authority: authority,
	})
	if err != nil {
		return nil, translateGatewayError(domain.PhaseVerify, err)
	}

	return &Verification{
		Ref:  strconv.FormatInt(result.RefID, 10),
		Code: result.Code,
	}, nil
}

func translateGatewayError(phase string, err error) error {
	var apiErr *zarinpal.APIError
	if errors.As(err, &apiErr) {
		return &domain.GatewayRejection{
			Phase:   phase,
			Code:    apiErr.CodeString(),
			Message: apiErr.Message,
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrGatewayTransport, err)
}

// MockGateway approves everything. It is used in development when no merchant is configured.
type MockGateway struct {
	StartPayURL string
}

func (m *MockGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	authority := "MOCK" + ulid.Make().String()
	return &Authorization{
		Authority:   authority,
		RedirectURL: m.StartPayURL + authority,
	}, nil
}

func (m *MockGateway) Verify(ctx context.Context, authority string, amount int64) (*Verification, error) {
	id := ulid.Make()
	return &Verification{
		Ref:  strconv.FormatUint(id.Time(), 10),
		Code: zarinpal.CodeSuccess,
	}, nil
}
