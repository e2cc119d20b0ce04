package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/logging"
	"github.com/mansoorceksport/storefront/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// StatusOK is the callback status the gateway sends when the shopper completed the payment page.
const StatusOK = "OK"

const sideEffectTimeout = 10 * time.Second

// ReceiptArchive stores a settled invoice receipt and returns where it lives.
type ReceiptArchive interface {
	Archive(ctx context.Context, receipt *domain.Receipt) (string, error)
}

// EventPublisher announces settled invoices to other systems.
type EventPublisher interface {
	PublishSettled(ctx context.Context, event *domain.SettlementEvent) error
}

// ProductCacheInvalidator is implemented by product repositories that cache reads.
type ProductCacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...int64)
}

// CallbackParams are the query parameters of the gateway callback.
type CallbackParams struct {
	Status    string
	Authority string
}

// SettlementResult describes a payment that has just been settled.
type SettlementResult struct {
	InvoiceID       string  `json:"invoice_id"`
	PaymentID       string  `json:"payment_id"`
	Ref             string  `json:"ref_id"`
	Amount          int64   `json:"amount"`
	InvoiceNumber   int64   `json:"invoice_number"`
	StockShortfalls []int64 `json:"stock_shortfalls,omitempty"`
}

// SettlementService reconciles gateway callbacks with local payment state.
type SettlementService struct {
	payments  domain.PaymentRepository
	invoices  domain.InvoiceRepository
	products  domain.ProductRepository
	sequences domain.SequenceRepository
	carts     domain.CartRepository
	tx        domain.Transactor
	gateway   PaymentGateway
	archive   ReceiptArchive
	publisher EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewSettlementService(
	payments domain.PaymentRepository,
	invoices domain.InvoiceRepository,
	products domain.ProductRepository,
	sequences domain.SequenceRepository,
	carts domain.CartRepository,
	tx domain.Transactor,
	gateway PaymentGateway,
) *SettlementService {
	return &SettlementService{
		payments:  payments,
		invoices:  invoices,
		products:  products,
		sequences: sequences,
		carts:     carts,
		tx:        tx,
		gateway:   gateway,
		logger:    logging.Component("settlement"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithReceiptArchive enables receipt archiving after settlement.
func (s *SettlementService) WithReceiptArchive(archive ReceiptArchive) *SettlementService {
	s.archive = archive
	return s
}

// WithEventPublisher enables settlement events.
func (s *SettlementService) WithEventPublisher(publisher EventPublisher) *SettlementService {
	s.publisher = publisher
	return s
}

// Verify handles one gateway callback. It is safe to call repeatedly with the same authority:
// once the payment has left pending every further call returns domain.ErrPaymentNotFound.
func (s *SettlementService) Verify(ctx context.Context, params CallbackParams) (*SettlementResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "settlement.Verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.authority", params.Authority),
		attribute.String("payment.callback_status", params.Status),
	)

	result, outcome, err := s.verify(ctx, params)
	telemetry.RecordSettlement(ctx, outcome)
	span.SetAttributes(attribute.String("settlement.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *SettlementService) verify(ctx context.Context, params CallbackParams) (*SettlementResult, string, error) {
	if params.Authority == "" {
		return nil, telemetry.OutcomeCancelled, domain.ErrPaymentCancelled
	}

	payment, err := s.payments.GetPendingByAuthority(ctx, params.Authority)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) || errors.Is(err, domain.ErrNotFound) {
			return nil, telemetry.OutcomeError, domain.ErrPaymentNotFound
		}
		return nil, telemetry.OutcomeRetryable, fmt.Errorf("failed to load payment: %w", err)
	}

	logger := s.logger.With().
		Str("payment_id", payment.ID).
		Str("invoice_id", payment.InvoiceID).
		Str("authority", params.Authority).
		Logger()

	if params.Status != StatusOK {
		err := s.payments.Transition(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusError, domain.PaymentUpdate{
			ErrorCode:    domain.ErrorCodeCancelled,
			ErrorMessage: fmt.Sprintf("gateway callback status %q", params.Status),
		})
		if err != nil {
			return nil, telemetry.OutcomeError, s.transitionFailure(err)
		}
		logger.Info().Str("status", params.Status).Msg("payment cancelled by shopper")
		return nil, telemetry.OutcomeCancelled, domain.ErrPaymentCancelled
	}

	return s.reconcile(ctx, logger, payment)
}

// Reconcile asks the gateway about a pending payment that never got its callback
// and applies the verdict the same way the callback does.
func (s *SettlementService) Reconcile(ctx context.Context, payment *domain.Payment) (*SettlementResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "settlement.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", payment.ID),
		attribute.String("payment.authority", payment.Authority),
	)

	logger := s.logger.With().
		Str("payment_id", payment.ID).
		Str("invoice_id", payment.InvoiceID).
		Str("authority", payment.Authority).
		Logger()

	result, outcome, err := s.reconcile(ctx, logger, payment)
	telemetry.RecordSettlement(ctx, outcome)
	span.SetAttributes(attribute.String("settlement.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *SettlementService) reconcile(ctx context.Context, logger zerolog.Logger, payment *domain.Payment) (*SettlementResult, string, error) {
	if payment.Authority == "" {
		return nil, telemetry.OutcomeError, domain.ErrPaymentNotFound
	}

	verification, err := s.gateway.Verify(ctx, payment.Authority, payment.Amount())
	if err != nil {
		var rejection *domain.GatewayRejection
		if !errors.As(err, &rejection) {
			// Left pending so the shopper or the gateway can retry the callback
			logger.Warn().Err(err).Msg("gateway verify failed, payment left pending")
			return nil, telemetry.OutcomeRetryable, err
		}

		err := s.payments.Transition(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusError, domain.PaymentUpdate{
			ErrorCode:    rejection.Code,
			ErrorMessage: rejection.Message,
		})
		if err != nil {
			return nil, telemetry.OutcomeError, s.transitionFailure(err)
		}
		logger.Warn().Str("code", rejection.Code).Str("message", rejection.Message).Msg("gateway rejected payment")
		return nil, telemetry.OutcomeError, rejection
	}

	invoice, err := s.settle(ctx, payment, verification.Ref)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, telemetry.OutcomeError, err
		}
		logger.Error().Err(err).Msg("settlement transaction failed")
		return nil, telemetry.OutcomeRetryable, fmt.Errorf("failed to settle payment: %w", err)
	}
	s.invalidateProducts(ctx, invoice)

	payment.Status = domain.PaymentStatusDone
	payment.Ref = verification.Ref

	if err := s.carts.Clear(ctx, payment.SessionID); err != nil {
		logger.Warn().Err(err).Msg("failed to clear cart after settlement")
	}
	s.afterSettlement(ctx, logger, invoice, payment)

	logger.Info().
		Str("ref", verification.Ref).
		Int64("invoice_number", *invoice.Number).
		Ints64("stock_shortfalls", invoice.StockShortfalls).
		Msg("payment settled")

	return &SettlementResult{
		InvoiceID:       invoice.ID,
		PaymentID:       payment.ID,
		Ref:             verification.Ref,
		Amount:          payment.Amount(),
		InvoiceNumber:   *invoice.Number,
		StockShortfalls: invoice.StockShortfalls,
	}, telemetry.OutcomeDone, nil
}

// invalidateProducts drops cached copies of the settled products once the transaction has committed.
func (s *SettlementService) invalidateProducts(ctx context.Context, invoice *domain.Invoice) {
	cache, ok := s.products.(ProductCacheInvalidator)
	if !ok {
		return
	}
	ids := make([]int64, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		ids = append(ids, item.ProductID)
	}
	cache.Invalidate(ctx, ids...)
}

// settle applies a verified payment in one transaction: payment done, invoice numbered, stock taken.
func (s *SettlementService) settle(ctx context.Context, payment *domain.Payment, ref string) (*domain.Invoice, error) {
	var settled *domain.Invoice

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		err := s.payments.Transition(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusDone, domain.PaymentUpdate{Ref: ref})
		if err != nil {
			return s.transitionFailure(err)
		}

		invoice, err := s.invoices.GetByID(ctx, payment.InvoiceID)
		if err != nil {
			return fmt.Errorf("failed to load invoice: %w", err)
		}

		if invoice.Number == nil {
			number, err := s.sequences.Next(ctx, domain.InvoiceNumberSequence)
			if err != nil {
				return err
			}
			if err := s.invoices.AssignNumber(ctx, invoice.ID, number); err != nil {
				return err
			}
			invoice.Number = &number
		}

		var shortfalls []int64
		for _, item := range invoice.Items {
			err := s.products.DecrementStock(ctx, item.ProductID, item.Count)
			if errors.Is(err, domain.ErrStockShortfall) {
				shortfalls = append(shortfalls, item.ProductID)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to decrement stock of product %d: %w", item.ProductID, err)
			}
		}
		if len(shortfalls) > 0 {
			if err := s.invoices.RecordShortfalls(ctx, invoice.ID, shortfalls); err != nil {
				return err
			}
			invoice.StockShortfalls = append(invoice.StockShortfalls, shortfalls...)
		}

		settled = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(settled.StockShortfalls) > 0 {
		s.logger.Warn().
			Err(domain.ErrStockShortfall).
			Str("invoice_id", settled.ID).
			Ints64("product_ids", settled.StockShortfalls).
			Msg("settled invoice exceeded available stock")
	}
	return settled, nil
}

// afterSettlement archives the receipt and publishes the settlement event concurrently.
// Failures are logged and never reach the shopper.
func (s *SettlementService) afterSettlement(ctx context.Context, logger zerolog.Logger, invoice *domain.Invoice, payment *domain.Payment) {
	if s.archive == nil && s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	settledAt := s.now()
	g, gCtx := errgroup.WithContext(ctx)

	if s.archive != nil {
		g.Go(func() error {
			url, err := s.archive.Archive(gCtx, &domain.Receipt{Invoice: invoice, Payment: payment, SettledAt: settledAt})
			if err != nil {
				logger.Warn().Err(err).Msg("failed to archive receipt")
				return nil
			}
			logger.Debug().Str("url", url).Msg("receipt archived")
			return nil
		})
	}

	if s.publisher != nil {
		g.Go(func() error {
			event := &domain.SettlementEvent{
				InvoiceID:       invoice.ID,
				InvoiceNumber:   *invoice.Number,
				PaymentID:       payment.ID,
				UserID:          payment.UserID,
				Ref:             payment.Ref,
				Amount:          payment.Total,
				StockShortfalls: invoice.StockShortfalls,
				SettledAt:       settledAt,
			}
			if err := s.publisher.PublishSettled(gCtx, event); err != nil {
				logger.Warn().Err(err).Msg("failed to publish settlement event")
			}
			return nil
		})
	}

	_ = g.Wait()
}

// transitionFailure maps a lost compare-and-swap to the duplicate callback answer.
func (s *SettlementService) transitionFailure(err error) error {
	if errors.Is(err, domain.ErrTransitionRejected) {
		return domain.ErrPaymentNotFound
	}
	return fmt.Errorf("failed to transition payment: %w", err)
}
