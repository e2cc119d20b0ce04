package zarinpal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Result codes returned by ZarinPal
const (
	CodeSuccess         = 100
	CodeAlreadyVerified = 101
)

// Config holds ZarinPal API configuration
type Config struct {
	MerchantID  string
	RequestURL  string // payment request endpoint
	VerifyURL   string // payment verification endpoint
	StartPayURL string // prefix of the hosted payment page, the authority is appended
	Timeout     time.Duration
}

// Client is the ZarinPal API client
type Client struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// PaymentRequest is the body of a payment request call
type PaymentRequest struct {
	MerchantID  string            `json:"merchant_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Description string            `json:"description"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PaymentResult is the data section of a payment request response
type PaymentResult struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
	FeeType   string `json:"fee_type"`
	Fee       int64  `json:"fee"`
}

// VerifyRequest is the body of a verification call
type VerifyRequest struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

// VerifyResult is the data section of a verification response
type VerifyResult struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	RefID    int64  `json:"ref_id"`
	CardPan  string `json:"card_pan"`
	CardHash string `json:"card_hash"`
	FeeType  string `json:"fee_type"`
	Fee      int64  `json:"fee"`
}

// APIError is the errors section of a response. ZarinPal reports rejections here.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zarinpal error %d: %s", e.Code, e.Message)
}

// CodeString renders the code the way it is stored on payments.
func (e *APIError) CodeString() string {
	return strconv.Itoa(e.Code)
}

// envelope mirrors the response shape. Empty sections arrive as [] instead of {},
// so both are decoded lazily.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// NewClient creates a new ZarinPal client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log.With().Str("component", "zarinpal").Logger(),
	}
}

// StartPayURL builds the hosted payment page URL for an authority
func (c *Client) StartPayURL(authority string) string {
	return c.config.StartPayURL + authority
}

// RequestPayment opens a payment session. A non-success code is returned as *APIError.
func (c *Client) RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	req.MerchantID = c.config.MerchantID

	var result PaymentResult
	if err := c.call(ctx, c.config.RequestURL, req, &result); err != nil {
		return nil, err
	}
	if result.Code != CodeSuccess || result.Authority == "" {
		return nil, &APIError{Code: result.Code, Message: result.Message}
	}
	return &result, nil
}

// Verify confirms a payment after the shopper returns from the hosted page.
// Both 100 and 101 count as verified.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	req.MerchantID = c.config.MerchantID

	var result VerifyResult
	if err := c.call(ctx, c.config.VerifyURL, req, &result); err != nil {
		return nil, err
	}
	if result.Code != CodeSuccess && result.Code != CodeAlreadyVerified {
		return nil, &APIError{Code: result.Code, Message: result.Message}
	}
	return &result, nil
}

// call posts body as JSON and decodes the data section into out.
// Transport, HTTP and decoding failures are returned as plain errors; an errors section as *APIError.
func (c *Client) call(ctx context.Context, url string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("gateway call finished")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("zarinpal http status %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if apiErr := decodeAPIError(env.Errors); apiErr != nil {
		return apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("zarinpal http status %d", resp.StatusCode)
	}
	if !isObject(env.Data) {
		return errors.New("zarinpal response has no data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

func decodeAPIError(raw json.RawMessage) *APIError {
	if !isObject(raw) {
		return nil
	}
	var apiErr APIError
	if err := json.Unmarshal(raw, &apiErr); err != nil {
		return nil
	}
	if apiErr.Code == 0 && apiErr.Message == "" {
		return nil
	}
	return &apiErr
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
