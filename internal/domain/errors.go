package domain

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrForbidden = errors.New("access forbidden: you don't own this resource")
)

// Checkout and settlement errors
var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrPaymentCancelled   = errors.New("payment was cancelled")
	ErrPaymentNotFound    = errors.New("there is no pending payment for this authority")
	ErrTransitionRejected = errors.New("payment is no longer in the expected state")
	ErrInvalidTransition  = errors.New("invalid payment status transition")
	ErrGatewayTransport   = errors.New("payment gateway unreachable")
	ErrStockShortfall     = errors.New("insufficient stock to settle invoice item")
	ErrNumberAssigned     = errors.New("invoice number already assigned")
)

// ValidationError is a user-facing input problem. No state is changed when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Gateway phases
const (
	PhaseAuthorize = "authorize"
	PhaseVerify    = "verify"
)

// GatewayRejection carries a non-success result code reported by the payment gateway.
type GatewayRejection struct {
	Phase   string
	Code    string
	Message string
}

func (e *GatewayRejection) Error() string {
	return fmt.Sprintf("gateway rejected %s: code %s: %s", e.Phase, e.Code, e.Message)
}
