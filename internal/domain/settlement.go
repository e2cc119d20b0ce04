package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEvent is published once an invoice has been paid and its stock applied.
type SettlementEvent struct {
	InvoiceID       string          `json:"invoice_id"`
	InvoiceNumber   int64           `json:"invoice_number"`
	PaymentID       string          `json:"payment_id"`
	UserID          string          `json:"user_id"`
	Ref             string          `json:"ref"`
	Amount          decimal.Decimal `json:"amount"`
	StockShortfalls []int64         `json:"stock_shortfalls,omitempty"`
	SettledAt       time.Time       `json:"settled_at"`
}

// Receipt is the archived proof of a settled invoice.
type Receipt struct {
	Invoice   *Invoice  `json:"invoice"`
	Payment   *Payment  `json:"payment"`
	SettledAt time.Time `json:"settled_at"`
}
