package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the pgx query surface, satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists onboarding progress in Postgres.
type Store struct {
	db  DBTX
	now func() time.Time
}

// NewStore wires a store onto db.
func NewStore(db DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

const progressColumns = `account_id, state, company_configured_at, first_client_at,
	first_invoice_at, completed_at, created_at, updated_at`

func scanProgress(row pgx.Row) (Progress, error) {
	var p Progress
	err := row.Scan(&p.AccountID, &p.State, &p.CompanyConfiguredAt, &p.FirstClientAt,
		&p.FirstInvoiceAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Get returns the account's progress, creating the initial record on first
// access.
func (s *Store) Get(ctx context.Context, accountID uuid.UUID) (Progress, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM onboarding_progress WHERE account_id = $1`, accountID)
	p, err := scanProgress(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Progress{}, fmt.Errorf("query progress: %w", err)
	}

	fresh := NewProgress(accountID, s.now().UTC())
	row = s.db.QueryRow(ctx, `
		INSERT INTO onboarding_progress (account_id, state, created_at, updated_at)
		VALUES ($1,$2,$3,$3)
		ON CONFLICT (account_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING `+progressColumns,
		fresh.AccountID, fresh.State, fresh.CreatedAt)
	return scanProgress(row)
}

// Advance applies ev to the stored progress and persists the result. The
// update is guarded on the previous state so concurrent events cannot both
// win the same transition.
func (s *Store) Advance(ctx context.Context, accountID uuid.UUID, ev Event) (Progress, error) {
	current, err := s.Get(ctx, accountID)
	if err != nil {
		return Progress{}, err
	}
	next, err := Apply(current, ev, s.now().UTC())
	if err != nil {
		return Progress{}, err
	}

	row := s.db.QueryRow(ctx, `
		UPDATE onboarding_progress SET
			state = $3, company_configured_at = $4, first_client_at = $5,
			first_invoice_at = $6, completed_at = $7, updated_at = $8
		WHERE account_id = $1 AND state = $2
		RETURNING `+progressColumns,
		accountID, current.State,
		next.State, next.CompanyConfiguredAt, next.FirstClientAt,
		next.FirstInvoiceAt, next.CompletedAt, next.UpdatedAt)
	updated, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Progress{}, fmt.Errorf("%w: concurrent update on %s", ErrInvalidTransition, accountID)
		}
		return Progress{}, fmt.Errorf("update progress: %w", err)
	}
	return updated, nil
}
