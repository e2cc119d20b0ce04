package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlementFixture struct {
	*checkoutFixture
	settlement *SettlementService
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	f := newCheckoutFixture(t)
	s := f.store
	settlement := NewSettlementService(memPayments{s}, memInvoices{s}, memProducts{s}, memSequences{s},
		memCarts{s}, memTx{s}, f.gateway)
	return &settlementFixture{checkoutFixture: f, settlement: settlement}
}

// checkout fills the session cart and submits it, returning the checkout result and its authority.
func (f *settlementFixture) checkout(t *testing.T, sessionID string) (*CheckoutResult, string) {
	t.Helper()
	f.fillCart(t, sessionID)
	result, err := f.svc.Submit(context.Background(), validRequest(sessionID))
	require.NoError(t, err)
	return result, f.store.payment(result.PaymentID).Authority
}

func TestSettlement_Success(t *testing.T) {
	f := newSettlementFixture(t)
	checkout, authority := f.checkout(t, "s1")
	f.gateway.ref = "201"

	result, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)

	assert.Equal(t, "201", result.Ref)
	assert.Equal(t, int64(196), result.Amount)
	assert.Equal(t, int64(1), result.InvoiceNumber)
	assert.Empty(t, result.StockShortfalls)

	payment := f.store.payment(checkout.PaymentID)
	assert.Equal(t, domain.PaymentStatusDone, payment.Status)
	assert.Equal(t, "201", payment.Ref)

	invoice := f.store.invoice(checkout.InvoiceID)
	require.NotNil(t, invoice.Number)
	assert.Equal(t, int64(1), *invoice.Number)

	assert.Equal(t, 4, f.store.stock(1))
	assert.Equal(t, 3, f.store.stock(2))
	assert.True(t, f.store.cart("s1").IsEmpty())
}

func TestSettlement_CancelledByShopper(t *testing.T) {
	f := newSettlementFixture(t)
	checkout, authority := f.checkout(t, "s1")

	_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "NOK", Authority: authority})
	assert.ErrorIs(t, err, domain.ErrPaymentCancelled)

	payment := f.store.payment(checkout.PaymentID)
	assert.Equal(t, domain.PaymentStatusError, payment.Status)
	assert.Equal(t, domain.ErrorCodeCancelled, payment.ErrorCode)
	assert.Nil(t, f.store.invoice(checkout.InvoiceID).Number)
	assert.Equal(t, 5, f.store.stock(1))
	assert.Equal(t, 0, f.gateway.verifyCalls())
	assert.False(t, f.store.cart("s1").IsEmpty())
}

func TestSettlement_MissingOrUnknownAuthority(t *testing.T) {
	f := newSettlementFixture(t)
	checkout, _ := f.checkout(t, "s1")

	_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK"})
	assert.ErrorIs(t, err, domain.ErrPaymentCancelled)

	_, err = f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: "forged"})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	assert.Equal(t, domain.PaymentStatusPending, f.store.payment(checkout.PaymentID).Status)
	assert.Equal(t, 0, f.gateway.verifyCalls())
}

func TestSettlement_GatewayRejectsVerify(t *testing.T) {
	f := newSettlementFixture(t)
	checkout, authority := f.checkout(t, "s1")
	f.gateway.setVerifyErr(&domain.GatewayRejection{Phase: domain.PhaseVerify, Code: "-51", Message: "session is not active"})

	_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	var rejection *domain.GatewayRejection
	require.True(t, errors.As(err, &rejection))

	payment := f.store.payment(checkout.PaymentID)
	assert.Equal(t, domain.PaymentStatusError, payment.Status)
	assert.Equal(t, "-51", payment.ErrorCode)
	assert.Equal(t, "session is not active", payment.ErrorMessage)
	assert.Nil(t, f.store.invoice(checkout.InvoiceID).Number)
	assert.Equal(t, 5, f.store.stock(2))
}

func TestSettlement_TransportFailureIsRetryable(t *testing.T) {
	f := newSettlementFixture(t)
	checkout, authority := f.checkout(t, "s1")
	f.gateway.setVerifyErr(fmt.Errorf("%w: connection reset", domain.ErrGatewayTransport))

	_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	assert.ErrorIs(t, err, domain.ErrGatewayTransport)
	assert.Equal(t, domain.PaymentStatusPending, f.store.payment(checkout.PaymentID).Status)

	f.gateway.setVerifyErr(nil)
	result, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.InvoiceNumber)
	assert.Equal(t, domain.PaymentStatusDone, f.store.payment(checkout.PaymentID).Status)
}

func TestSettlement_RepeatedCallbackIsIdempotent(t *testing.T) {
	f := newSettlementFixture(t)
	_, authority := f.checkout(t, "s1")
	ctx := context.Background()

	_, err := f.settlement.Verify(ctx, CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.settlement.Verify(ctx, CallbackParams{Status: "OK", Authority: authority})
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	}

	assert.Equal(t, 4, f.store.stock(1))
	assert.Equal(t, 3, f.store.stock(2))
	assert.Equal(t, 1, f.gateway.verifyCalls())
}

func TestSettlement_ConcurrentCallbacksSettleOnce(t *testing.T) {
	f := newSettlementFixture(t)
	checkout, authority := f.checkout(t, "s1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, duplicates int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrPaymentNotFound):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, duplicates)
	assert.Equal(t, 4, f.store.stock(1))
	assert.Equal(t, 3, f.store.stock(2))
	assert.Equal(t, int64(1), *f.store.invoice(checkout.InvoiceID).Number)
}

func TestSettlement_NumbersFollowSettlementOrder(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	first, firstAuthority := f.checkout(t, "s1")
	second, secondAuthority := f.checkout(t, "s2")
	third, thirdAuthority := f.checkout(t, "s3")

	// A cancelled invoice never consumes a number
	_, err := f.settlement.Verify(ctx, CallbackParams{Status: "NOK", Authority: firstAuthority})
	require.ErrorIs(t, err, domain.ErrPaymentCancelled)

	r3, err := f.settlement.Verify(ctx, CallbackParams{Status: "OK", Authority: thirdAuthority})
	require.NoError(t, err)
	r2, err := f.settlement.Verify(ctx, CallbackParams{Status: "OK", Authority: secondAuthority})
	require.NoError(t, err)

	assert.Equal(t, int64(1), r3.InvoiceNumber)
	assert.Equal(t, int64(2), r2.InvoiceNumber)
	assert.Nil(t, f.store.invoice(first.InvoiceID).Number)
	assert.Equal(t, int64(2), *f.store.invoice(second.InvoiceID).Number)
	assert.Equal(t, int64(1), *f.store.invoice(third.InvoiceID).Number)
}

func TestSettlement_StockShortfallDoesNotGoNegative(t *testing.T) {
	f := newSettlementFixture(t)
	checkout, authority := f.checkout(t, "s1")
	require.NoError(t, memProducts{f.store}.Upsert(context.Background(),
		&domain.Product{ID: 2, Name: "Cap", Price: 50, Discount: 20, Count: 1, Enabled: true}))

	result, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, result.StockShortfalls)
	assert.Equal(t, 1, f.store.stock(2))
	assert.Equal(t, 4, f.store.stock(1))
	assert.Equal(t, []int64{2}, f.store.invoice(checkout.InvoiceID).StockShortfalls)
	assert.Equal(t, domain.PaymentStatusDone, f.store.payment(checkout.PaymentID).Status)
}

type recordingArchive struct {
	mu       sync.Mutex
	receipts []*domain.Receipt
	err      error
}

func (a *recordingArchive) Archive(ctx context.Context, receipt *domain.Receipt) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.receipts = append(a.receipts, receipt)
	if a.err != nil {
		return "", a.err
	}
	return "s3://receipts/" + receipt.Invoice.ID, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.SettlementEvent
	err    error
}

func (p *recordingPublisher) PublishSettled(ctx context.Context, event *domain.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func TestSettlement_SideEffects(t *testing.T) {
	f := newSettlementFixture(t)
	archive := &recordingArchive{}
	publisher := &recordingPublisher{}
	f.settlement.WithReceiptArchive(archive).WithEventPublisher(publisher)

	checkout, authority := f.checkout(t, "s1")
	f.gateway.ref = "555"

	_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)

	require.Len(t, archive.receipts, 1)
	assert.Equal(t, checkout.InvoiceID, archive.receipts[0].Invoice.ID)
	assert.Equal(t, domain.PaymentStatusDone, archive.receipts[0].Payment.Status)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, checkout.InvoiceID, event.InvoiceID)
	assert.Equal(t, int64(1), event.InvoiceNumber)
	assert.Equal(t, "555", event.Ref)
	assert.True(t, event.Amount.Equal(dec("196.2")))
}

func TestSettlement_SideEffectFailuresAreSwallowed(t *testing.T) {
	f := newSettlementFixture(t)
	f.settlement.
		WithReceiptArchive(&recordingArchive{err: errors.New("bucket gone")}).
		WithEventPublisher(&recordingPublisher{err: errors.New("broker down")})

	checkout, authority := f.checkout(t, "s1")

	_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusDone, f.store.payment(checkout.PaymentID).Status)
}

func TestSettlement_InvoiceSnapshotSurvivesCatalogChanges(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()
	checkout, authority := f.checkout(t, "s1")
	before := f.store.invoice(checkout.InvoiceID)

	_, err := f.settlement.Verify(ctx, CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)

	products := memProducts{f.store}
	require.NoError(t, products.Upsert(ctx, &domain.Product{ID: 1, Name: "Big Mug", Price: 999, Discount: 50, Count: 4, Enabled: true}))
	require.NoError(t, products.Upsert(ctx, &domain.Product{ID: 2, Name: "Cap", Price: 10, Count: 3, Enabled: true}))

	after, err := memInvoices{f.store}.GetByID(ctx, checkout.InvoiceID)
	require.NoError(t, err)

	assert.True(t, after.Total.Equal(before.Total))
	assert.True(t, after.Discount.Equal(before.Discount))
	require.Len(t, after.Items, len(before.Items))
	for i, item := range after.Items {
		assert.Equal(t, before.Items[i].Name, item.Name)
		assert.Equal(t, before.Items[i].Count, item.Count)
		assert.True(t, item.Price.Equal(before.Items[i].Price), "price of product %d", item.ProductID)
		assert.True(t, item.Discount.Equal(before.Items[i].Discount), "discount of product %d", item.ProductID)
		assert.True(t, item.Total.Equal(before.Items[i].Total), "total of product %d", item.ProductID)
	}
	assert.True(t, f.store.payment(checkout.PaymentID).Total.Equal(dec("196.2")))
}

// invalidatingProducts records product cache invalidations and whether a transaction was still open.
type invalidatingProducts struct {
	memProducts
	mu          sync.Mutex
	invalidated []int64
	inTx        bool
}

func (p *invalidatingProducts) Invalidate(ctx context.Context, ids ...int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = append(p.invalidated, ids...)
	if p.s.txMu.TryLock() {
		p.s.txMu.Unlock()
	} else {
		p.inTx = true
	}
}

func TestSettlement_InvalidatesCachedProductsAfterCommit(t *testing.T) {
	f := newSettlementFixture(t)
	s := f.store
	products := &invalidatingProducts{memProducts: memProducts{s}}
	f.settlement = NewSettlementService(memPayments{s}, memInvoices{s}, products, memSequences{s},
		memCarts{s}, memTx{s}, f.gateway)
	_, authority := f.checkout(t, "s1")

	_, err := f.settlement.Verify(context.Background(), CallbackParams{Status: "OK", Authority: authority})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{1, 2}, products.invalidated)
	assert.False(t, products.inTx)
	assert.Equal(t, 4, s.stock(1))

	// Nothing was settled, nothing is invalidated
	_, authority = f.checkout(t, "s2")
	_, err = f.settlement.Verify(context.Background(), CallbackParams{Status: "NOK", Authority: authority})
	require.ErrorIs(t, err, domain.ErrPaymentCancelled)
	assert.Len(t, products.invalidated, 2)
}

func TestSettlement_ReconcileWithoutCallback(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()
	checkout, _ := f.checkout(t, "s1")

	result, err := f.settlement.Reconcile(ctx, f.store.payment(checkout.PaymentID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.InvoiceNumber)
	assert.Equal(t, domain.PaymentStatusDone, f.store.payment(checkout.PaymentID).Status)
	assert.True(t, f.store.cart("s1").IsEmpty())

	// The stale copy loses the compare-and-swap
	stale := f.store.payment(checkout.PaymentID)
	stale.Status = domain.PaymentStatusPending
	_, err = f.settlement.Reconcile(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	assert.Equal(t, 4, f.store.stock(1))

	_, err = f.settlement.Reconcile(ctx, &domain.Payment{ID: "pay-x", Status: domain.PaymentStatusPending})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}
