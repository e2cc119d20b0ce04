package service

import (
	"context"
	"errors"

	"github.com/mansoorceksport/storefront/internal/domain"
	"golang.org/x/sync/errgroup"
)

// InvoiceDetail is an invoice with the state of its payment.
type InvoiceDetail struct {
	Invoice *domain.Invoice `json:"invoice"`
	Payment *PaymentSummary `json:"payment,omitempty"`
}

// PaymentSummary is the shopper-facing view of a payment.
type PaymentSummary struct {
	Status    domain.PaymentStatus `json:"status"`
	Ref       string               `json:"ref,omitempty"`
	Total     string               `json:"total"`
	ErrorCode string               `json:"error_code,omitempty"`
}

// InvoiceService serves a shopper's invoice history
type InvoiceService struct {
	invoices domain.InvoiceRepository
	payments domain.PaymentRepository
}

func NewInvoiceService(invoices domain.InvoiceRepository, payments domain.PaymentRepository) *InvoiceService {
	return &InvoiceService{invoices: invoices, payments: payments}
}

// List returns the user's invoices, newest first.
func (s *InvoiceService) List(ctx context.Context, userID string) ([]*domain.Invoice, error) {
	invoices, err := s.invoices.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []*domain.Invoice{}
	}
	return invoices, nil
}

// Get loads one invoice and its payment. Invoices of other users are forbidden.
func (s *InvoiceService) Get(ctx context.Context, userID, invoiceID string) (*InvoiceDetail, error) {
	var invoice *domain.Invoice
	var payment *domain.Payment

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		inv, err := s.invoices.GetByID(gCtx, invoiceID)
		if err != nil {
			return err
		}
		invoice = inv
		return nil
	})

	g.Go(func() error {
		p, err := s.payments.GetByInvoiceID(gCtx, invoiceID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		payment = p
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if invoice.UserID != userID {
		return nil, domain.ErrForbidden
	}

	detail := &InvoiceDetail{Invoice: invoice}
	if payment != nil {
		detail.Payment = &PaymentSummary{
			Status:    payment.Status,
			Ref:       payment.Ref,
			Total:     payment.Total.StringFixed(2),
			ErrorCode: payment.ErrorCode,
		}
	}
	return detail, nil
}
