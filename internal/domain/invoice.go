package domain

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxAddressLength = 255

// Invoice is the durable financial record of one checkout attempt.
// Number stays nil until the first successful settlement.
type Invoice struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	Number      *int64          `json:"number"`
	UserID      string          `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	Discount    decimal.Decimal `json:"discount"`
	Description string          `json:"description"`
	Address     string          `json:"address"`
	VAT         decimal.Decimal `json:"vat"`
	Items       []InvoiceItem   `json:"items"`
	// StockShortfalls holds product ids whose stock could not cover the item at settlement.
	StockShortfalls []int64 `json:"stock_shortfalls,omitempty"`
}

// InvoiceItem is an immutable snapshot of one cart line at invoice creation.
type InvoiceItem struct {
	ID        string          `json:"id"`
	InvoiceID string          `json:"invoice_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Count     int             `json:"count"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

// CheckoutForm is the user-supplied part of an invoice.
type CheckoutForm struct {
	Address     string `json:"address" form:"address"`
	Description string `json:"description" form:"description"`
}

// Validate trims and checks the form.
func (f *CheckoutForm) Validate() error {
	f.Address = strings.TrimSpace(f.Address)
	f.Description = strings.TrimSpace(f.Description)
	if f.Address == "" {
		return NewValidationError("address", "this field is required")
	}
	if len(f.Address) > maxAddressLength {
		return NewValidationError("address", "must be at most 255 characters")
	}
	return nil
}

// BuildInvoice snapshots a priced cart into an invoice owned by userID.
// Item price, discount and name are copied so later catalog changes leave the record untouched.
func BuildInvoice(userID string, form CheckoutForm, pricing Pricing) (*Invoice, error) {
	if pricing.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if userID == "" {
		return nil, ErrForbidden
	}

	inv := &Invoice{
		UserID:      userID,
		Total:       pricing.LinesTotal(),
		Discount:    decimal.Zero,
		Description: form.Description,
		Address:     form.Address,
		VAT:         pricing.VATRate,
	}
	for _, line := range pricing.Lines {
		inv.Items = append(inv.Items, InvoiceItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Count:     line.Count,
			Price:     line.Price,
			Discount:  line.Discount,
			Total:     line.Total,
		})
	}
	return inv, nil
}

// ItemsTotal sums the item totals.
func (i *Invoice) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range i.Items {
		total = total.Add(item.Total)
	}
	return total
}

// PayableTotal is the VAT-inclusive amount charged: total * (1 - discount/100) * (1 + vat/100).
func (i *Invoice) PayableTotal() decimal.Decimal {
	afterDiscount := i.Total.Mul(decimal.NewFromInt(1).Sub(i.Discount.Div(hundred)))
	withVAT := afterDiscount.Add(afterDiscount.Mul(i.VAT).Div(hundred))
	return withVAT.Round(2)
}

// GatewayAmount converts a payable total to the integer amount sent to the gateway.
func GatewayAmount(total decimal.Decimal) int64 {
	return total.IntPart()
}

// InvoiceRepository defines operations for managing invoices and their items
type InvoiceRepository interface {
	// Create inserts the invoice and all of its items. Call it inside a transaction.
	Create(ctx context.Context, invoice *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	GetByUserID(ctx context.Context, userID string) ([]*Invoice, error)
	// AssignNumber sets the number only if none is set yet, returning ErrNumberAssigned otherwise.
	AssignNumber(ctx context.Context, id string, number int64) error
	RecordShortfalls(ctx context.Context, id string, productIDs []int64) error
}

// SequenceRepository hands out monotonically increasing numbers per named sequence.
type SequenceRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}

// InvoiceNumberSequence is the sequence used for invoice numbers.
const InvoiceNumberSequence = "invoice_number"
