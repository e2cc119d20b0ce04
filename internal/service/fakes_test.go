package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for MongoDB and Redis. Transactions are serialized
// and roll back by restoring a snapshot.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	seq      int
	products map[int64]*domain.Product
	invoices map[string]*domain.Invoice
	payments map[string]*domain.Payment
	counters map[string]int64
	carts    map[string]domain.Cart

	failPaymentCreate error
	failCartGet       error
}

func newMemStore() *memStore {
	return &memStore{
		products: map[int64]*domain.Product{},
		invoices: map[string]*domain.Invoice{},
		payments: map[string]*domain.Payment{},
		counters: map[string]int64{},
		carts:    map[string]domain.Cart{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func copyInvoice(inv *domain.Invoice) *domain.Invoice {
	out := *inv
	out.Items = append([]domain.InvoiceItem(nil), inv.Items...)
	out.StockShortfalls = append([]int64(nil), inv.StockShortfalls...)
	if inv.Number != nil {
		n := *inv.Number
		out.Number = &n
	}
	return &out
}

func copyPayment(p *domain.Payment) *domain.Payment {
	out := *p
	return &out
}

type memSnapshot struct {
	products map[int64]*domain.Product
	invoices map[string]*domain.Invoice
	payments map[string]*domain.Payment
	counters map[string]int64
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		products: map[int64]*domain.Product{},
		invoices: map[string]*domain.Invoice{},
		payments: map[string]*domain.Payment{},
		counters: map[string]int64{},
	}
	for k, v := range s.products {
		p := *v
		snap.products[k] = &p
	}
	for k, v := range s.invoices {
		snap.invoices[k] = copyInvoice(v)
	}
	for k, v := range s.payments {
		snap.payments[k] = copyPayment(v)
	}
	for k, v := range s.counters {
		snap.counters[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = snap.products
	s.invoices = snap.invoices
	s.payments = snap.payments
	s.counters = snap.counters
}

func (s *memStore) payment(id string) *domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		return copyPayment(p)
	}
	return nil
}

func (s *memStore) invoice(id string) *domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.invoices[id]; ok {
		return copyInvoice(inv)
	}
	return nil
}

func (s *memStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Count
}

func (s *memStore) addProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// memTx implements domain.Transactor
type memTx struct{ s *memStore }

func (t memTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()
	snap := t.s.snapshot()
	if err := fn(ctx); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

// memProducts implements domain.ProductRepository
type memProducts struct{ s *memStore }

func (r memProducts) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (r memProducts) GetByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[int64]*domain.Product{}
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (r memProducts) DecrementStock(ctx context.Context, id int64, n int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok || p.Count < n {
		return domain.ErrStockShortfall
	}
	p.Count -= n
	return nil
}

func (r memProducts) Upsert(ctx context.Context, product *domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *product
	r.s.products[product.ID] = &cp
	return nil
}

// memInvoices implements domain.InvoiceRepository
type memInvoices struct{ s *memStore }

func (r memInvoices) Create(ctx context.Context, invoice *domain.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	invoice.ID = r.s.nextID("inv")
	invoice.Date = time.Now().UTC()
	for i := range invoice.Items {
		invoice.Items[i].ID = r.s.nextID("item")
		invoice.Items[i].InvoiceID = invoice.ID
	}
	r.s.invoices[invoice.ID] = copyInvoice(invoice)
	return nil
}

func (r memInvoices) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyInvoice(inv), nil
}

func (r memInvoices) GetByUserID(ctx context.Context, userID string) ([]*domain.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Invoice
	for _, inv := range r.s.invoices {
		if inv.UserID == userID {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memInvoices) AssignNumber(ctx context.Context, id string, number int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return domain.ErrNotFound
	}
	if inv.Number != nil {
		return domain.ErrNumberAssigned
	}
	inv.Number = &number
	return nil
}

func (r memInvoices) RecordShortfalls(ctx context.Context, id string, productIDs []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return domain.ErrNotFound
	}
	inv.StockShortfalls = append(inv.StockShortfalls, productIDs...)
	return nil
}

// memPayments implements domain.PaymentRepository
type memPayments struct{ s *memStore }

func (r memPayments) Create(ctx context.Context, payment *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failPaymentCreate != nil {
		return r.s.failPaymentCreate
	}
	payment.ID = r.s.nextID("pay")
	payment.CreatedAt = time.Now().UTC()
	payment.UpdatedAt = payment.CreatedAt
	r.s.payments[payment.ID] = copyPayment(payment)
	return nil
}

func (r memPayments) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPayment(p), nil
}

func (r memPayments) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.InvoiceID == invoiceID {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memPayments) GetPendingByAuthority(ctx context.Context, authority string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if authority != "" && p.Authority == authority && p.Status == domain.PaymentStatusPending {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r memPayments) SetAuthority(ctx context.Context, id, authority string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending || p.Authority != "" {
		return domain.ErrTransitionRejected
	}
	p.Authority = authority
	return nil
}

func (r memPayments) Transition(ctx context.Context, id string, from, to domain.PaymentStatus, update domain.PaymentUpdate) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidTransition
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrTransitionRejected
	}
	p.Status = to
	if update.Ref != "" {
		p.Ref = update.Ref
	}
	if update.ErrorCode != "" {
		p.ErrorCode = update.ErrorCode
	}
	if update.ErrorMessage != "" {
		p.ErrorMessage = update.ErrorMessage
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r memPayments) ListPendingBefore(ctx context.Context, before time.Time, limit int64) ([]*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Payment
	for _, p := range r.s.payments {
		if p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(before) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memSequences implements domain.SequenceRepository
type memSequences struct{ s *memStore }

func (r memSequences) Next(ctx context.Context, name string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[name]++
	return r.s.counters[name], nil
}

// memCarts implements domain.CartRepository
type memCarts struct{ s *memStore }

func (r memCarts) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCartGet != nil {
		return nil, r.s.failCartGet
	}
	if c, ok := r.s.carts[sessionID]; ok {
		return c.Clone(), nil
	}
	return domain.NewCart(), nil
}

func (r memCarts) Save(ctx context.Context, sessionID string, cart domain.Cart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cart.IsEmpty() {
		delete(r.s.carts, sessionID)
		return nil
	}
	r.s.carts[sessionID] = cart.Clone()
	return nil
}

func (r memCarts) Clear(ctx context.Context, sessionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.carts, sessionID)
	return nil
}

func (s *memStore) cart(sessionID string) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[sessionID]; ok {
		return c.Clone()
	}
	return domain.NewCart()
}

// fakeGateway records calls and answers with configured results
type fakeGateway struct {
	mu           sync.Mutex
	authorizeErr error
	verifyErr    error
	authorities  []string
	ref          string
	authorized   []AuthorizeRequest
	verified     []string
}

func (g *fakeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized = append(g.authorized, req)
	if g.authorizeErr != nil {
		return nil, g.authorizeErr
	}
	authority := fmt.Sprintf("A%d", len(g.authorized))
	g.authorities = append(g.authorities, authority)
	return &Authorization{Authority: authority, RedirectURL: "https://gateway.test/StartPay/" + authority}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, authority string, amount int64) (*Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified = append(g.verified, authority)
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	ref := g.ref
	if ref == "" {
		ref = "1001"
	}
	return &Verification{Ref: ref, Code: 100}, nil
}

func (g *fakeGateway) setVerifyErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyErr = err
}

func (g *fakeGateway) verifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.verified)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedCatalog stores the two products of the reference checkout scenario:
// product 1 costs 100 without discount, product 2 costs 50 with 20% off.
func seedCatalog(s *memStore) {
	s.addProduct(&domain.Product{ID: 1, Name: "Mug", Price: 100, Count: 5, Enabled: true})
	s.addProduct(&domain.Product{ID: 2, Name: "Cap", Price: 50, Discount: 20, Count: 5, Enabled: true})
}
