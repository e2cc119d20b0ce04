package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "storefront-api"

// Settlement outcomes
const (
	OutcomeDone      = "done"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeExpired   = "expired"
	OutcomeRetryable = "retryable"
)

var (
	settlementsOnce    sync.Once
	settlementsCounter metric.Int64Counter
)

// RecordSettlement counts one finished verify attempt by outcome.
func RecordSettlement(ctx context.Context, outcome string) {
	settlementsOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("storefront.settlements",
			metric.WithDescription("Payment verification outcomes"),
		)
		if err == nil {
			settlementsCounter = counter
		}
	})
	if settlementsCounter == nil {
		return
	}
	settlementsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Tracer returns the service tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
