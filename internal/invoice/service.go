package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facturio/facturio-api/internal/billing"
	"github.com/facturio/facturio-api/internal/mailer"
	"github.com/facturio/facturio-api/internal/obs"
)

// ErrInvoiceNotFound is returned when the referenced invoice does not exist.
var ErrInvoiceNotFound = errors.New("invoice not found")

// ErrNotDraft is returned when an operation requires a draft invoice.
var ErrNotDraft = errors.New("invoice is not a draft")

// InvoiceStore is the persistence surface the service needs.
type InvoiceStore interface {
	Create(ctx context.Context, inv Invoice, items []Item) (Invoice, []Item, error)
	Get(ctx context.Context, id uuid.UUID) (Invoice, error)
	Items(ctx context.Context, invoiceID uuid.UUID) ([]Item, error)
	List(ctx context.Context, limit, offset int) ([]Invoice, int, error)
	ReplaceItems(ctx context.Context, inv Invoice, items []Item) ([]Item, error)
	UpdateTotals(ctx context.Context, id uuid.UUID, totals billing.Totals) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Enqueuer schedules background recalculation of an invoice's totals.
type Enqueuer interface {
	EnqueueRecalculate(ctx context.Context, invoiceID uuid.UUID) error
}

// Service prices and persists invoices. Queue and Mail are optional; when nil
// the corresponding side effects are skipped.
type Service struct {
	Store InvoiceStore
	Calc  *billing.Calculator
	Queue Enqueuer
	Mail  mailer.Sender
	Log   zerolog.Logger
}

// CreateInput carries everything needed to create a priced document.
type CreateInput struct {
	Number   string
	ClientID uuid.UUID
	Kind     Kind
	DueDate  *time.Time
	Lines    []billing.LineItem
	Global   *billing.GlobalDiscount
}

// Create prices the lines and persists the document with its stored totals.
func (s *Service) Create(ctx context.Context, in CreateInput) (Invoice, []Item, error) {
	processed, totals, err := s.Calc.Process(ctx, in.Lines, in.Global)
	if err != nil {
		return Invoice{}, nil, err
	}

	inv := Invoice{
		ID:        uuid.New(),
		Number:    in.Number,
		ClientID:  in.ClientID,
		Kind:      in.Kind,
		Status:    StatusDraft,
		Subtotal:  totals.Subtotal,
		TVAAmount: totals.VATAmount,
		Total:     totals.Total,
		DueDate:   in.DueDate,
	}
	if in.Global != nil {
		v := in.Global.Value
		t := in.Global.Type
		inv.GlobalDiscountValue = &v
		inv.GlobalDiscountType = &t
	}
	inv.GlobalDiscountAmount = totals.GlobalDiscountAmount

	created, items, err := s.Store.Create(ctx, inv, itemsFromProcessed(inv.ID, processed))
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("persist invoice: %w", err)
	}
	if obs.InvoiceCreatedTotal != nil {
		obs.InvoiceCreatedTotal.WithLabelValues(string(created.Kind)).Inc()
	}
	s.Log.Info().
		Str("invoice_id", created.ID.String()).
		Str("number", created.Number).
		Str("kind", string(created.Kind)).
		Str("total", created.Total.StringFixed(2)).
		Msg("invoice created")
	return created, items, nil
}

// Get returns the invoice header with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Invoice, []Item, error) {
	inv, err := s.Store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return Invoice{}, nil, ErrInvoiceNotFound
		}
		return Invoice{}, nil, err
	}
	items, err := s.Store.Items(ctx, id)
	if err != nil {
		return Invoice{}, nil, err
	}
	return inv, items, nil
}

// List returns a page of invoice headers.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Invoice, int, error) {
	return s.Store.List(ctx, limit, offset)
}

// UpdateItems reprices the draft with the new lines and global discount,
// replaces its items atomically, and schedules a background recalculation as
// a safety net against concurrent policy changes.
func (s *Service) UpdateItems(ctx context.Context, id uuid.UUID, lines []billing.LineItem, global *billing.GlobalDiscount) (Invoice, []Item, error) {
	inv, err := s.Store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return Invoice{}, nil, ErrInvoiceNotFound
		}
		return Invoice{}, nil, err
	}
	if inv.Status != StatusDraft {
		return Invoice{}, nil, ErrNotDraft
	}

	processed, totals, err := s.Calc.Process(ctx, lines, global)
	if err != nil {
		return Invoice{}, nil, err
	}

	inv.Subtotal = totals.Subtotal
	inv.TVAAmount = totals.VATAmount
	inv.Total = totals.Total
	inv.GlobalDiscountAmount = totals.GlobalDiscountAmount
	inv.GlobalDiscountValue = nil
	inv.GlobalDiscountType = nil
	if global != nil {
		v := global.Value
		t := global.Type
		inv.GlobalDiscountValue = &v
		inv.GlobalDiscountType = &t
	}

	items, err := s.Store.ReplaceItems(ctx, inv, itemsFromProcessed(inv.ID, processed))
	if err != nil {
		if IsNotFound(err) {
			return Invoice{}, nil, ErrInvoiceNotFound
		}
		return Invoice{}, nil, fmt.Errorf("replace items: %w", err)
	}

	if s.Queue != nil {
		if err := s.Queue.EnqueueRecalculate(ctx, inv.ID); err != nil {
			s.Log.Warn().Err(err).
				Str("invoice_id", inv.ID.String()).
				Msg("enqueue recalculation failed")
		}
	}
	return inv, items, nil
}

// Recalculate reprices a stored invoice from its persisted lines and writes
// the resulting totals back. It is idempotent: running it twice on unchanged
// lines yields the same stored amounts.
func (s *Service) Recalculate(ctx context.Context, id uuid.UUID) error {
	inv, err := s.Store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			countRecalc("not_found")
			return ErrInvoiceNotFound
		}
		countRecalc("error")
		return err
	}
	items, err := s.Store.Items(ctx, id)
	if err != nil {
		countRecalc("error")
		return err
	}

	_, totals, err := s.Calc.Process(ctx, linesFromItems(items), globalFromInvoice(inv))
	if err != nil {
		countRecalc("error")
		return fmt.Errorf("reprice invoice %s: %w", id, err)
	}
	if err := s.Store.UpdateTotals(ctx, id, totals); err != nil {
		if IsNotFound(err) {
			countRecalc("not_found")
			return ErrInvoiceNotFound
		}
		countRecalc("error")
		return err
	}
	countRecalc("ok")
	s.Log.Debug().
		Str("invoice_id", id.String()).
		Str("total", totals.Total.StringFixed(2)).
		Msg("invoice recalculated")
	return nil
}

// Send marks the invoice as sent and, when a sender is configured, emails a
// summary to the given address.
func (s *Service) Send(ctx context.Context, id uuid.UUID, toEmail string) (Invoice, error) {
	inv, err := s.Store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	if err := s.Store.SetStatus(ctx, id, StatusSent); err != nil {
		if IsNotFound(err) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	inv.Status = StatusSent

	if s.Mail != nil && toEmail != "" {
		msg := mailer.Message{
			To:      toEmail,
			Subject: fmt.Sprintf("Invoice %s", inv.Number),
			HTML:    invoiceEmailHTML(inv),
		}
		if err := s.Mail.Send(ctx, msg); err != nil {
			countEmail("error")
			s.Log.Error().Err(err).
				Str("invoice_id", id.String()).
				Msg("invoice email failed")
		} else {
			countEmail("ok")
		}
	}
	return inv, nil
}

// MarkPaid moves a sent invoice to paid.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, err := s.Store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	if err := s.Store.SetStatus(ctx, id, StatusPaid); err != nil {
		return Invoice{}, err
	}
	inv.Status = StatusPaid
	return inv, nil
}

// Delete removes the invoice and its items.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		if IsNotFound(err) {
			return ErrInvoiceNotFound
		}
		return err
	}
	return nil
}

func itemsFromProcessed(invoiceID uuid.UUID, lines []billing.ProcessedLineItem) []Item {
	items := make([]Item, 0, len(lines))
	for _, ln := range lines {
		items = append(items, Item{
			ID:                     uuid.New(),
			InvoiceID:              invoiceID,
			Position:               ln.Order,
			Description:            ln.Description,
			Quantity:               ln.Quantity,
			UnitPrice:              ln.UnitPrice,
			VATRate:                ln.VATRate,
			ProductID:              ln.ProductID,
			DiscountValue:          ln.DiscountValue,
			DiscountType:           ln.DiscountType,
			DiscountSource:         ln.DiscountSource,
			SubtotalBeforeDiscount: ln.SubtotalBeforeDiscount,
			DiscountAmount:         ln.DiscountAmount,
			Total:                  ln.Total,
		})
	}
	return items
}

// linesFromItems rebuilds calculator input from stored lines. Manually
// discounted lines keep their values; product-sourced discounts are dropped so
// the calculator re-resolves them against the current policy.
func linesFromItems(items []Item) []billing.LineItem {
	lines := make([]billing.LineItem, 0, len(items))
	for _, it := range items {
		ln := billing.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			ProductID:   it.ProductID,
		}
		if it.DiscountSource == billing.SourceManual {
			ln.DiscountValue = it.DiscountValue
			ln.DiscountType = it.DiscountType
		}
		lines = append(lines, ln)
	}
	return lines
}

func globalFromInvoice(inv Invoice) *billing.GlobalDiscount {
	if inv.GlobalDiscountValue == nil || inv.GlobalDiscountType == nil {
		return nil
	}
	return &billing.GlobalDiscount{Value: *inv.GlobalDiscountValue, Type: *inv.GlobalDiscountType}
}

func invoiceEmailHTML(inv Invoice) string {
	return fmt.Sprintf(
		`<p>Invoice <strong>%s</strong></p><p>Subtotal: CHF %s<br>TVA: CHF %s<br>Total: CHF %s</p>`,
		inv.Number,
		inv.Subtotal.StringFixed(2),
		inv.TVAAmount.StringFixed(2),
		inv.Total.StringFixed(2),
	)
}

func countRecalc(result string) {
	if obs.InvoiceRecalcTotal != nil {
		obs.InvoiceRecalcTotal.WithLabelValues(result).Inc()
	}
}

func countEmail(result string) {
	if obs.EmailSendTotal != nil {
		obs.EmailSendTotal.WithLabelValues(result).Inc()
	}
}
