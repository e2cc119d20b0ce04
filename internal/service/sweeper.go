package service

import (
	"context"
	"errors"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/logging"
	"github.com/mansoorceksport/storefront/internal/telemetry"
	"github.com/rs/zerolog"
)

const sweepBatchSize = 100

// PaymentReconciler settles or rejects a pending payment by asking the gateway.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, payment *domain.Payment) (*SettlementResult, error)
}

// SweepReport counts what one sweep did with the stale pending payments it found.
type SweepReport struct {
	Expired  int
	Settled  int
	Rejected int
	Deferred int
}

// Total is the number of payments that left pending during the sweep.
func (r SweepReport) Total() int {
	return r.Expired + r.Settled + r.Rejected
}

// PaymentSweeper resolves payments that stayed pending longer than the TTL.
// Shoppers who never come back from the gateway would otherwise leave them pending forever.
type PaymentSweeper struct {
	payments   domain.PaymentRepository
	reconciler PaymentReconciler
	ttl        time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewPaymentSweeper(payments domain.PaymentRepository, reconciler PaymentReconciler, ttl time.Duration) *PaymentSweeper {
	return &PaymentSweeper{
		payments:   payments,
		reconciler: reconciler,
		ttl:        ttl,
		logger:     logging.Component("sweeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ExpireStale walks the stale pending payments. Payments without an authority never reached the
// gateway and are expired. Payments with one are reconciled with the gateway first, and stay
// pending while the gateway is unreachable.
func (s *PaymentSweeper) ExpireStale(ctx context.Context) (SweepReport, error) {
	cutoff := s.now().Add(-s.ttl)
	var report SweepReport
	gatewayDown := false
	deferred := map[string]bool{}

	for {
		batch, err := s.payments.ListPendingBefore(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return report, err
		}

		moved := 0
		for _, p := range batch {
			if deferred[p.ID] {
				continue
			}
			logger := s.logger.With().Str("payment_id", p.ID).Str("invoice_id", p.InvoiceID).Logger()

			if p.Authority == "" {
				err := s.payments.Transition(ctx, p.ID, domain.PaymentStatusPending, domain.PaymentStatusError, domain.PaymentUpdate{
					ErrorCode:    domain.ErrorCodeExpired,
					ErrorMessage: "payment was not completed in time",
				})
				if errors.Is(err, domain.ErrTransitionRejected) {
					continue
				}
				if err != nil {
					return report, err
				}
				moved++
				report.Expired++
				telemetry.RecordSettlement(ctx, telemetry.OutcomeExpired)
				logger.Info().Msg("pending payment expired")
				continue
			}

			if gatewayDown {
				deferred[p.ID] = true
				report.Deferred++
				continue
			}

			_, err := s.reconciler.Reconcile(ctx, p)
			var rejection *domain.GatewayRejection
			switch {
			case err == nil:
				moved++
				report.Settled++
			case errors.As(err, &rejection):
				moved++
				report.Rejected++
			case errors.Is(err, domain.ErrPaymentNotFound):
				// Settled or cancelled by a callback in the meantime
			case errors.Is(err, domain.ErrGatewayTransport):
				logger.Warn().Err(err).Msg("gateway unreachable, reconciliation deferred")
				gatewayDown = true
				deferred[p.ID] = true
				report.Deferred++
			default:
				logger.Error().Err(err).Msg("reconciliation failed, payment left pending")
				deferred[p.ID] = true
				report.Deferred++
			}
		}

		if len(batch) < sweepBatchSize || moved == 0 {
			return report, nil
		}
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *PaymentSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report, err := s.ExpireStale(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
				continue
			}
			if report.Total() > 0 || report.Deferred > 0 {
				s.logger.Info().
					Int("expired", report.Expired).
					Int("settled", report.Settled).
					Int("rejected", report.Rejected).
					Int("deferred", report.Deferred).
					Msg("sweep finished")
			}
		case <-ctx.Done():
			return
		}
	}
}
