package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio-api/internal/billing"
	"github.com/facturio/facturio-api/internal/tva"
)

// Product is a sellable item with an optional default discount policy.
type Product struct {
	ID             uuid.UUID
	Name           string
	Description    string
	UnitPrice      decimal.Decimal
	VATCategory    tva.Category
	DiscountValue  *decimal.Decimal
	DiscountType   *billing.DiscountType
	DiscountActive bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProductParams carries the writable product fields.
type ProductParams struct {
	Name           string
	Description    string
	UnitPrice      decimal.Decimal
	VATCategory    tva.Category
	DiscountValue  *decimal.Decimal
	DiscountType   *billing.DiscountType
	DiscountActive bool
}

// DBTX is the subset of pgxpool.Pool the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists products in Postgres.
type Store struct {
	DB DBTX
}

// NewStore constructs a product store.
func NewStore(db DBTX) *Store {
	return &Store{DB: db}
}

const productColumns = `id, name, description, unit_price, vat_category, discount_value, discount_type, discount_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		value decimal.NullDecimal
		typ   *string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.UnitPrice, &p.VATCategory, &value, &typ, &p.DiscountActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if value.Valid {
		p.DiscountValue = &value.Decimal
	}
	if typ != nil {
		t := billing.DiscountType(*typ)
		p.DiscountType = &t
	}
	return p, nil
}

// Create inserts a product and returns the stored row.
func (s *Store) Create(ctx context.Context, params ProductParams) (Product, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO products (name, description, unit_price, vat_category, discount_value, discount_type, discount_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+productColumns,
		params.Name, params.Description, params.UnitPrice, params.VATCategory,
		nullDecimal(params.DiscountValue), nullType(params.DiscountType), params.DiscountActive,
	)
	return scanProduct(row)
}

// Get fetches one product by id. Missing rows surface as pgx.ErrNoRows.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// List returns a page of products ordered by creation time, newest first,
// along with the total row count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Product, int, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// Update rewrites the writable fields of a product.
func (s *Store) Update(ctx context.Context, id uuid.UUID, params ProductParams) (Product, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE products
		SET name = $2, description = $3, unit_price = $4, vat_category = $5,
		    discount_value = $6, discount_type = $7, discount_active = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		id, params.Name, params.Description, params.UnitPrice, params.VATCategory,
		nullDecimal(params.DiscountValue), nullType(params.DiscountType), params.DiscountActive,
	)
	return scanProduct(row)
}

// Delete removes a product. Missing rows surface as pgx.ErrNoRows.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
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
