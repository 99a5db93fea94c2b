package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio-api/internal/billing"
)

// Kind distinguishes invoices from quotes.
type Kind string

const (
	KindInvoice Kind = "INVOICE"
	KindQuote   Kind = "QUOTE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindInvoice || k == KindQuote }

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft Status = "DRAFT"
	StatusSent  Status = "SENT"
	StatusPaid  Status = "PAID"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusSent || s == StatusPaid
}

// Invoice is the persisted document header with its stored totals.
type Invoice struct {
	ID                   uuid.UUID            `json:"id"`
	Number               string               `json:"number"`
	ClientID             uuid.UUID            `json:"clientId"`
	Kind                 Kind                 `json:"kind"`
	Status               Status               `json:"status"`
	GlobalDiscountValue  *decimal.Decimal     `json:"globalDiscountValue,omitempty"`
	GlobalDiscountType   *billing.DiscountType `json:"globalDiscountType,omitempty"`
	GlobalDiscountAmount *decimal.Decimal     `json:"globalDiscountAmount,omitempty"`
	Subtotal             decimal.Decimal      `json:"subtotal"`
	TVAAmount            decimal.Decimal      `json:"tvaAmount"`
	Total                decimal.Decimal      `json:"total"`
	DueDate              *time.Time           `json:"dueDate,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// Item is one persisted invoice line, including the priced amounts and
// the discount provenance resolved at pricing time.
type Item struct {
	ID                     uuid.UUID              `json:"id"`
	InvoiceID              uuid.UUID              `json:"invoiceId"`
	Position               int                    `json:"position"`
	Description            string                 `json:"description"`
	Quantity               decimal.Decimal        `json:"quantity"`
	UnitPrice              decimal.Decimal        `json:"unitPrice"`
	VATRate                decimal.Decimal        `json:"vatRate"`
	ProductID              *uuid.UUID             `json:"productId,omitempty"`
	DiscountValue          *decimal.Decimal       `json:"discountValue,omitempty"`
	DiscountType           *billing.DiscountType  `json:"discountType,omitempty"`
	DiscountSource         billing.DiscountSource `json:"discountSource"`
	SubtotalBeforeDiscount decimal.Decimal        `json:"subtotalBeforeDiscount"`
	DiscountAmount         decimal.Decimal        `json:"discountAmount"`
	Total                  decimal.Decimal        `json:"total"`
}

// DB is the pgx surface the store needs, satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists invoices and their items in Postgres.
type Store struct {
	db DB
}

// NewStore wires a store onto db.
func NewStore(db DB) *Store { return &Store{db: db} }

const invoiceColumns = `id, number, client_id, kind, status,
	global_discount_value, global_discount_type, global_discount_amount,
	subtotal, tva_amount, total, due_date, created_at, updated_at`

const itemColumns = `id, invoice_id, position, description, quantity, unit_price,
	vat_rate, product_id, discount_value, discount_type, discount_source,
	subtotal_before_discount, discount_amount, total`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv     Invoice
		gdVal   decimal.NullDecimal
		gdType  *string
		gdAmt   decimal.NullDecimal
		dueDate *time.Time
	)
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.ClientID, &inv.Kind, &inv.Status,
		&gdVal, &gdType, &gdAmt,
		&inv.Subtotal, &inv.TVAAmount, &inv.Total,
		&dueDate, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return Invoice{}, err
	}
	if gdVal.Valid {
		inv.GlobalDiscountValue = &gdVal.Decimal
	}
	if gdType != nil {
		t := billing.DiscountType(*gdType)
		inv.GlobalDiscountType = &t
	}
	if gdAmt.Valid {
		inv.GlobalDiscountAmount = &gdAmt.Decimal
	}
	inv.DueDate = dueDate
	return inv, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		it    Item
		dVal  decimal.NullDecimal
		dType *string
	)
	err := row.Scan(
		&it.ID, &it.InvoiceID, &it.Position, &it.Description, &it.Quantity,
		&it.UnitPrice, &it.VATRate, &it.ProductID, &dVal, &dType,
		&it.DiscountSource, &it.SubtotalBeforeDiscount, &it.DiscountAmount, &it.Total,
	)
	if err != nil {
		return Item{}, err
	}
	if dVal.Valid {
		it.DiscountValue = &dVal.Decimal
	}
	if dType != nil {
		t := billing.DiscountType(*dType)
		it.DiscountType = &t
	}
	return it, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullType(t *billing.DiscountType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

// Create inserts the invoice header and its items in one transaction.
func (s *Store) Create(ctx context.Context, inv Invoice, items []Item) (Invoice, []Item, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO invoices (id, number, client_id, kind, status,
			global_discount_value, global_discount_type, global_discount_amount,
			subtotal, tva_amount, total, due_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+invoiceColumns,
		inv.ID, inv.Number, inv.ClientID, inv.Kind, inv.Status,
		nullDecimal(inv.GlobalDiscountValue), nullType(inv.GlobalDiscountType),
		nullDecimal(inv.GlobalDiscountAmount),
		inv.Subtotal, inv.TVAAmount, inv.Total, inv.DueDate,
	)
	created, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("insert invoice: %w", err)
	}

	out, err := insertItems(ctx, tx, created.ID, items)
	if err != nil {
		return Invoice{}, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Invoice{}, nil, fmt.Errorf("commit: %w", err)
	}
	return created, out, nil
}

func insertItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		row := tx.QueryRow(ctx, `
			INSERT INTO invoice_items (id, invoice_id, position, description,
				quantity, unit_price, vat_rate, product_id,
				discount_value, discount_type, discount_source,
				subtotal_before_discount, discount_amount, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			RETURNING `+itemColumns,
			it.ID, invoiceID, it.Position, it.Description,
			it.Quantity, it.UnitPrice, it.VATRate, it.ProductID,
			nullDecimal(it.DiscountValue), nullType(it.DiscountType), it.DiscountSource,
			it.SubtotalBeforeDiscount, it.DiscountAmount, it.Total,
		)
		created, err := scanItem(row)
		if err != nil {
			return nil, fmt.Errorf("insert item %d: %w", it.Position, err)
		}
		out = append(out, created)
	}
	return out, nil
}

// Get returns a single invoice header.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	row := s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

// Items returns the invoice lines ordered by position.
func (s *Store) Items(ctx context.Context, invoiceID uuid.UUID) ([]Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+itemColumns+` FROM invoice_items
		WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// List returns a page of invoice headers, newest first, plus the total count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Invoice, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// ReplaceItems swaps the invoice's lines and stored amounts in one
// transaction so readers never observe items without matching totals.
func (s *Store) ReplaceItems(ctx context.Context, inv Invoice, items []Item) ([]Item, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
		return nil, fmt.Errorf("delete items: %w", err)
	}
	out, err := insertItems(ctx, tx, inv.ID, items)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE invoices SET
			global_discount_value = $2, global_discount_type = $3,
			global_discount_amount = $4,
			subtotal = $5, tva_amount = $6, total = $7, updated_at = now()
		WHERE id = $1`,
		inv.ID,
		nullDecimal(inv.GlobalDiscountValue), nullType(inv.GlobalDiscountType),
		nullDecimal(inv.GlobalDiscountAmount),
		inv.Subtotal, inv.TVAAmount, inv.Total,
	)
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, pgx.ErrNoRows
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// UpdateTotals writes recomputed amounts onto the invoice header.
func (s *Store) UpdateTotals(ctx context.Context, id uuid.UUID, totals billing.Totals) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE invoices SET
			subtotal = $2, tva_amount = $3, total = $4,
			global_discount_amount = $5, updated_at = now()
		WHERE id = $1`,
		id, totals.Subtotal, totals.VATAmount, totals.Total,
		nullDecimal(totals.GlobalDiscountAmount),
	)
	if err != nil {
		return fmt.Errorf("update totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetStatus moves the invoice to status.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes the invoice; items go with it via ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err means the invoice row was absent.
func IsNotFound(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
