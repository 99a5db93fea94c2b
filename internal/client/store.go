// Package client manages the customer directory invoices are billed to.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrEmailTaken is returned when another client already uses the email.
var ErrEmailTaken = errors.New("client email already in use")

// Client is one billable customer.
type Client struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Street    string    `json:"street,omitempty"`
	Zip       string    `json:"zip,omitempty"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Params carries the mutable client fields.
type Params struct {
	Name    string
	Email   string
	Company string
	Street  string
	Zip     string
	City    string
	Country string
	Phone   string
}

// DBTX is the pgx query surface, satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists clients in Postgres.
type Store struct {
	db DBTX
}

// NewStore wires a store onto db.
func NewStore(db DBTX) *Store { return &Store{db: db} }

const clientColumns = `id, name, email, company, street, zip, city, country, phone, created_at, updated_at`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Company, &c.Street, &c.Zip,
		&c.City, &c.Country, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a new client. A duplicate email yields ErrEmailTaken.
func (s *Store) Create(ctx context.Context, p Params) (Client, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO clients (id, name, email, company, street, zip, city, country, phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+clientColumns,
		uuid.New(), p.Name, p.Email, p.Company, p.Street, p.Zip, p.City, p.Country, p.Phone)
	c, err := scanClient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Client{}, ErrEmailTaken
		}
		return Client{}, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}

// Get returns one client.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Client, error) {
	row := s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	return scanClient(row)
}

// List returns a page of clients ordered by name, plus the total count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Client, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM clients`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+clientColumns+` FROM clients ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Update rewrites the client's fields.
func (s *Store) Update(ctx context.Context, id uuid.UUID, p Params) (Client, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE clients SET name = $2, email = $3, company = $4, street = $5,
			zip = $6, city = $7, country = $8, phone = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+clientColumns,
		id, p.Name, p.Email, p.Company, p.Street, p.Zip, p.City, p.Country, p.Phone)
	c, err := scanClient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Client{}, ErrEmailTaken
		}
		return Client{}, err
	}
	return c, nil
}

// Delete removes a client.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
