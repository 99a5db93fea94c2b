package invoice_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio-api/internal/billing"
	"github.com/facturio/facturio-api/internal/invoice"
	"github.com/facturio/facturio-api/internal/mailer"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type fixedPolicies map[uuid.UUID]billing.DiscountPolicy

func (f fixedPolicies) DiscountPolicy(_ context.Context, id uuid.UUID) (*billing.DiscountPolicy, error) {
	p, ok := f[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type stubStore struct {
	mu           sync.Mutex
	invoices     map[uuid.UUID]invoice.Invoice
	items        map[uuid.UUID][]invoice.Item
	totalsWrites []billing.Totals
}

func newStubStore() *stubStore {
	return &stubStore{
		invoices: map[uuid.UUID]invoice.Invoice{},
		items:    map[uuid.UUID][]invoice.Item{},
	}
}

func (s *stubStore) Create(_ context.Context, inv invoice.Invoice, items []invoice.Item) (invoice.Invoice, []invoice.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
	s.items[inv.ID] = items
	return inv, items, nil
}

func (s *stubStore) Get(_ context.Context, id uuid.UUID) (invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, pgx.ErrNoRows
	}
	return inv, nil
}

func (s *stubStore) Items(_ context.Context, id uuid.UUID) ([]invoice.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id], nil
}

func (s *stubStore) List(context.Context, int, int) ([]invoice.Invoice, int, error) {
	return nil, 0, nil
}

func (s *stubStore) ReplaceItems(_ context.Context, inv invoice.Invoice, items []invoice.Item) ([]invoice.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; !ok {
		return nil, pgx.ErrNoRows
	}
	s.invoices[inv.ID] = inv
	s.items[inv.ID] = items
	return items, nil
}

func (s *stubStore) UpdateTotals(_ context.Context, id uuid.UUID, totals billing.Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return pgx.ErrNoRows
	}
	inv.Subtotal = totals.Subtotal
	inv.TVAAmount = totals.VATAmount
	inv.Total = totals.Total
	inv.GlobalDiscountAmount = totals.GlobalDiscountAmount
	s.invoices[id] = inv
	s.totalsWrites = append(s.totalsWrites, totals)
	return nil
}

func (s *stubStore) SetStatus(_ context.Context, id uuid.UUID, status invoice.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return pgx.ErrNoRows
	}
	inv.Status = status
	s.invoices[id] = inv
	return nil
}

func (s *stubStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.invoices, id)
	delete(s.items, id)
	return nil
}

func newService(store *stubStore, policies billing.PolicyLookup) *invoice.Service {
	return &invoice.Service{
		Store: store,
		Calc:  &billing.Calculator{Policies: policies},
		Log:   zerolog.Nop(),
	}
}

func TestCreateStoresPricedTotals(t *testing.T) {
	store := newStubStore()
	svc := newService(store, fixedPolicies{})

	typePercent := billing.DiscountPercent
	inv, items, err := svc.Create(context.Background(), invoice.CreateInput{
		Number:   "F-2026-001",
		ClientID: uuid.New(),
		Kind:     invoice.KindInvoice,
		Lines: []billing.LineItem{
			{Description: "Consulting", Quantity: dec("8"), UnitPrice: dec("180"), VATRate: dec("8.1")},
			{Description: "Hosting", Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("2.6"),
				DiscountValue: decPtr("10"), DiscountType: &typePercent},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, invoice.StatusDraft, inv.Status)
	assert.True(t, inv.Subtotal.Equal(dec("1530.00")), "subtotal %s", inv.Subtotal)
	assert.True(t, inv.TVAAmount.Equal(dec("118.98")), "tva %s", inv.TVAAmount)
	assert.True(t, inv.Total.Equal(dec("1648.98")), "total %s", inv.Total)

	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Position)
	assert.Equal(t, 2, items[1].Position)
	assert.Equal(t, billing.SourceManual, items[1].DiscountSource)
	assert.True(t, items[1].DiscountAmount.Equal(dec("10.00")))
	assert.True(t, items[1].Total.Equal(dec("90.00")))
}

func TestCreateRejectsInvalidLines(t *testing.T) {
	svc := newService(newStubStore(), fixedPolicies{})

	_, _, err := svc.Create(context.Background(), invoice.CreateInput{
		Number:   "F-2026-002",
		ClientID: uuid.New(),
		Kind:     invoice.KindInvoice,
		Lines: []billing.LineItem{
			{Description: "Bad", Quantity: dec("-1"), UnitPrice: dec("10"), VATRate: dec("8.1")},
		},
	})
	require.ErrorIs(t, err, billing.ErrInvalidLineItem)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	store := newStubStore()
	svc := newService(store, fixedPolicies{})

	id := uuid.New()
	store.invoices[id] = invoice.Invoice{ID: id, Number: "F-1", Status: invoice.StatusDraft,
		Kind: invoice.KindInvoice, ClientID: uuid.New()}
	store.items[id] = []invoice.Item{{
		ID: uuid.New(), InvoiceID: id, Position: 1, Description: "Service",
		Quantity: dec("2"), UnitPrice: dec("50"), VATRate: dec("8.1"),
		DiscountSource: billing.SourceNone,
	}}

	require.NoError(t, svc.Recalculate(context.Background(), id))
	require.NoError(t, svc.Recalculate(context.Background(), id))

	require.Len(t, store.totalsWrites, 2)
	for _, totals := range store.totalsWrites {
		assert.True(t, totals.Subtotal.Equal(dec("100.00")), "subtotal %s", totals.Subtotal)
		assert.True(t, totals.VATAmount.Equal(dec("8.10")), "tva %s", totals.VATAmount)
		assert.True(t, totals.Total.Equal(dec("108.10")), "total %s", totals.Total)
	}
}

func TestRecalculatePicksUpPolicyChange(t *testing.T) {
	store := newStubStore()
	productID := uuid.New()
	typePercent := billing.DiscountPercent
	policies := fixedPolicies{
		productID: {Value: decPtr("50"), Type: &typePercent, Active: true},
	}
	svc := newService(store, policies)

	// Stored line was priced before the product policy existed.
	id := uuid.New()
	store.invoices[id] = invoice.Invoice{ID: id, Number: "F-2", Status: invoice.StatusDraft,
		Kind: invoice.KindInvoice, ClientID: uuid.New(), Subtotal: dec("100.00")}
	store.items[id] = []invoice.Item{{
		ID: uuid.New(), InvoiceID: id, Position: 1, Description: "Widget",
		Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("8.1"),
		ProductID: &productID, DiscountSource: billing.SourceNone,
	}}

	require.NoError(t, svc.Recalculate(context.Background(), id))

	require.Len(t, store.totalsWrites, 1)
	assert.True(t, store.totalsWrites[0].Subtotal.Equal(dec("50.00")),
		"subtotal %s", store.totalsWrites[0].Subtotal)
}

func TestRecalculateKeepsManualDiscount(t *testing.T) {
	store := newStubStore()
	productID := uuid.New()
	typePercent := billing.DiscountPercent
	policies := fixedPolicies{
		productID: {Value: decPtr("50"), Type: &typePercent, Active: true},
	}
	svc := newService(store, policies)

	id := uuid.New()
	store.invoices[id] = invoice.Invoice{ID: id, Number: "F-3", Status: invoice.StatusDraft,
		Kind: invoice.KindInvoice, ClientID: uuid.New()}
	store.items[id] = []invoice.Item{{
		ID: uuid.New(), InvoiceID: id, Position: 1, Description: "Widget",
		Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("8.1"),
		ProductID: &productID, DiscountSource: billing.SourceManual,
		DiscountValue: decPtr("10"), DiscountType: &typePercent,
	}}

	require.NoError(t, svc.Recalculate(context.Background(), id))

	require.Len(t, store.totalsWrites, 1)
	assert.True(t, store.totalsWrites[0].Subtotal.Equal(dec("90.00")),
		"manual discount must win over the policy, got %s", store.totalsWrites[0].Subtotal)
}

func TestRecalculateMissingInvoice(t *testing.T) {
	svc := newService(newStubStore(), fixedPolicies{})
	err := svc.Recalculate(context.Background(), uuid.New())
	require.ErrorIs(t, err, invoice.ErrInvoiceNotFound)
}

func TestRecalculateAppliesStoredGlobalDiscount(t *testing.T) {
	store := newStubStore()
	svc := newService(store, fixedPolicies{})

	typeAmount := billing.DiscountAmount
	id := uuid.New()
	store.invoices[id] = invoice.Invoice{ID: id, Number: "F-4", Status: invoice.StatusDraft,
		Kind: invoice.KindInvoice, ClientID: uuid.New(),
		GlobalDiscountValue: decPtr("15"), GlobalDiscountType: &typeAmount}
	store.items[id] = []invoice.Item{{
		ID: uuid.New(), InvoiceID: id, Position: 1, Description: "Service",
		Quantity: dec("1"), UnitPrice: dec("150"), VATRate: dec("8.1"),
		DiscountSource: billing.SourceNone,
	}}

	require.NoError(t, svc.Recalculate(context.Background(), id))

	require.Len(t, store.totalsWrites, 1)
	totals := store.totalsWrites[0]
	assert.True(t, totals.Subtotal.Equal(dec("135.00")), "subtotal %s", totals.Subtotal)
	// VAT stays on the pre-discount line amount.
	assert.True(t, totals.VATAmount.Equal(dec("12.15")), "tva %s", totals.VATAmount)
	require.NotNil(t, totals.GlobalDiscountAmount)
	assert.True(t, totals.GlobalDiscountAmount.Equal(dec("15.00")))
}

func TestUpdateItemsRejectsNonDraft(t *testing.T) {
	store := newStubStore()
	svc := newService(store, fixedPolicies{})

	id := uuid.New()
	store.invoices[id] = invoice.Invoice{ID: id, Number: "F-5", Status: invoice.StatusSent,
		Kind: invoice.KindInvoice, ClientID: uuid.New()}

	_, _, err := svc.UpdateItems(context.Background(), id, []billing.LineItem{
		{Description: "Service", Quantity: dec("1"), UnitPrice: dec("10"), VATRate: dec("8.1")},
	}, nil)
	require.ErrorIs(t, err, invoice.ErrNotDraft)
}

func TestSendMarksSentAndEmails(t *testing.T) {
	store := newStubStore()
	outbox := &mailer.Memory{}
	svc := newService(store, fixedPolicies{})
	svc.Mail = outbox

	id := uuid.New()
	store.invoices[id] = invoice.Invoice{ID: id, Number: "F-2026-009", Status: invoice.StatusDraft,
		Kind: invoice.KindInvoice, ClientID: uuid.New(),
		Subtotal: dec("100.00"), TVAAmount: dec("8.10"), Total: dec("108.10")}

	inv, err := svc.Send(context.Background(), id, "client@example.ch")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSent, inv.Status)

	sent := outbox.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "client@example.ch", sent[0].To)
	assert.Contains(t, sent[0].Subject, "F-2026-009")
	assert.Contains(t, sent[0].HTML, "108.10")
}

func TestHandleRecalculateDropsMissingInvoice(t *testing.T) {
	svc := newService(newStubStore(), fixedPolicies{})
	handler := &invoice.TaskHandler{Svc: svc, Log: zerolog.Nop()}

	task, err := invoice.NewRecalculateTask(uuid.New())
	require.NoError(t, err)
	require.NoError(t, handler.HandleRecalculate(context.Background(), task))
}

func TestHandleRecalculateRejectsBadPayload(t *testing.T) {
	svc := newService(newStubStore(), fixedPolicies{})
	handler := &invoice.TaskHandler{Svc: svc, Log: zerolog.Nop()}

	task := asynq.NewTask(invoice.TypeRecalculate, []byte("not json"))
	err := handler.HandleRecalculate(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRecalculatePayloadRoundTrip(t *testing.T) {
	id := uuid.New()
	task, err := invoice.NewRecalculateTask(id)
	require.NoError(t, err)

	var decoded struct {
		InvoiceID uuid.UUID `json:"invoice_id"`
	}
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, id, decoded.InvoiceID)
}
