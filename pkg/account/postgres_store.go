package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// pgStore persists accounts in PostgreSQL. Per-account serialization is
// provided by row-level locking: Update runs inside a transaction holding
// SELECT ... FOR UPDATE on the account row.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the given connection pool.
// The accounts table is created by the bundled goose migrations.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("account: postgres pool is required")
	}
	return &pgStore{pool: pool}
}

const pgSelectAccount = `
SELECT id, email, credits, subscription_tier, subscription_active,
       subscription_expires_at, pending_checkout_token, created_at, updated_at
FROM accounts
WHERE id = $1`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec       Record
		tier      *string
		active    *bool
		expiresAt *time.Time
		pending   *string
	)
	if err := row.Scan(&rec.ID, &rec.Email, &rec.Credits, &tier, &active,
		&expiresAt, &pending, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if tier != nil {
		rec.Subscription = &Subscription{
			Tier:      catalog.Tier(*tier),
			ExpiresAt: expiresAt,
		}
		if active != nil {
			rec.Subscription.Active = *active
		}
	}
	if pending != nil {
		rec.PendingCheckoutToken = *pending
	}
	return &rec, nil
}

func recordColumns(rec *Record) (tier *string, active bool, expiresAt *time.Time, pending *string) {
	if rec.Subscription != nil {
		t := string(rec.Subscription.Tier)
		tier = &t
		active = rec.Subscription.Active
		expiresAt = rec.Subscription.ExpiresAt
	}
	if rec.PendingCheckoutToken != "" {
		pending = &rec.PendingCheckoutToken
	}
	return tier, active, expiresAt, pending
}

func (s *pgStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, pgSelectAccount, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, errors.Join(ErrFailedToLoadAccount, err)
	}
	return rec, nil
}

func (s *pgStore) Create(ctx context.Context, rec *Record) error {
	tier, active, expiresAt, pending := recordColumns(rec)

	_, err := s.pool.Exec(ctx, `
INSERT INTO accounts (id, email, credits, subscription_tier, subscription_active,
                      subscription_expires_at, pending_checkout_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Email, rec.Credits, tier, active, expiresAt, pending,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAccountAlreadyExists
		}
		return errors.Join(ErrFailedToSaveAccount, err)
	}
	return nil
}

func (s *pgStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToSaveAccount, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rec, err := scanRecord(tx.QueryRow(ctx, pgSelectAccount+" FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, errors.Join(ErrFailedToLoadAccount, err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now().UTC()

	tier, active, expiresAt, pending := recordColumns(rec)
	_, err = tx.Exec(ctx, `
UPDATE accounts
SET email = $2, credits = $3, subscription_tier = $4, subscription_active = $5,
    subscription_expires_at = $6, pending_checkout_token = $7, updated_at = $8
WHERE id = $1`,
		rec.ID, rec.Email, rec.Credits, tier, active, expiresAt, pending, rec.UpdatedAt)
	if err != nil {
		return nil, errors.Join(ErrFailedToSaveAccount, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Join(ErrFailedToSaveAccount, err)
	}
	return rec, nil
}
