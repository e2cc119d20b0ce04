package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

// Payment status constants
const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusDone    PaymentStatus = "done"
	PaymentStatusError   PaymentStatus = "error"
)

// Local error codes recorded on payments that never reached a gateway verdict.
const (
	ErrorCodeCancelled  = "cancelled"
	ErrorCodeConnection = "connection"
	ErrorCodeExpired    = "expired"
)

// IsTerminal reports whether no transition leaves the status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusDone || s == PaymentStatusError
}

// CanTransitionTo reports whether s -> next is a legal move. Only pending payments move,
// and they move exactly once.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s != PaymentStatusPending {
		return false
	}
	return next == PaymentStatusDone || next == PaymentStatusError
}

// Payment is the one-to-one settlement record of an invoice.
type Payment struct {
	ID           string          `json:"id"`
	InvoiceID    string          `json:"invoice_id"`
	UserID       string          `json:"user_id"`
	Total        decimal.Decimal `json:"total"`
	Ref          string          `json:"ref,omitempty"`
	Status       PaymentStatus   `json:"status"`
	Authority    string          `json:"authority,omitempty"`
	Description  string          `json:"description"`
	UserIP       string          `json:"user_ip,omitempty"`
	SessionID    string          `json:"-"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Amount is the integer amount the gateway sees for this payment.
func (p *Payment) Amount() int64 {
	return GatewayAmount(p.Total)
}

// PaymentUpdate carries the fields written together with a status transition.
type PaymentUpdate struct {
	Ref          string
	ErrorCode    string
	ErrorMessage string
}

// PaymentRepository defines operations for managing payments
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*Payment, error)
	// GetPendingByAuthority is the callback lookup; settled payments never match.
	GetPendingByAuthority(ctx context.Context, authority string) (*Payment, error)
	// SetAuthority stores the gateway token on a pending payment that has none yet.
	SetAuthority(ctx context.Context, id, authority string) error
	// Transition is a compare-and-swap on status. It returns ErrTransitionRejected when
	// the payment is no longer in the from state.
	Transition(ctx context.Context, id string, from, to PaymentStatus, update PaymentUpdate) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int64) ([]*Payment, error)
}

// Transactor runs fn inside a single storage transaction. Repositories called with the
// context handed to fn take part in that transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
