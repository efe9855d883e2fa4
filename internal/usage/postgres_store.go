package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/consultcredit/internal/units"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by usage_accounts and usage_entries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed usage store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `user_id, free_allowance_total, free_allowance_used, purchased_total, purchased_used,
			last_reset_period, created_at, updated_at`

// Get retrieves one user's account.
func (p *PostgresStore) Get(ctx context.Context, userID string) (*Account, error) {
	a, err := scanAccount(p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM usage_accounts WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage account: %w", err)
	}
	return a, nil
}

// Update locks the account row (inserting fresh if absent), applies fn and
// writes the account and its entries in one transaction. Serialization
// failures and deadlocks are retried with backoff.
func (p *PostgresStore) Update(ctx context.Context, userID string, fresh *Account, fn Mutation) (*Account, error) {
	var out *Account
	err := conflictPolicy("postgres", isRetryable).Do(ctx, func() error {
		a, err := p.update(ctx, userID, fresh, fn)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) update(ctx context.Context, userID string, fresh *Account, fn Mutation) (*Account, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_accounts (user_id, free_allowance_total, free_allowance_used, purchased_total,
			purchased_used, last_reset_period, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, fresh.FreeAllowanceTotal, fresh.FreeAllowanceUsed, fresh.PurchasedTotal,
		fresh.PurchasedUsed, string(fresh.LastResetPeriod), fresh.CreatedAt); err != nil {
		return nil, fmt.Errorf("ensure usage account: %w", err)
	}

	a, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM usage_accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock usage account: %w", err)
	}

	entries, err := fn(a)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE usage_accounts SET
			free_allowance_total = $2,
			free_allowance_used  = $3,
			purchased_total      = $4,
			purchased_used       = $5,
			last_reset_period    = $6,
			updated_at           = $7
		WHERE user_id = $1
	`, a.UserID, a.FreeAllowanceTotal, a.FreeAllowanceUsed, a.PurchasedTotal, a.PurchasedUsed,
		string(a.LastResetPeriod), a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update usage account: %w", err)
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO usage_entries (id, user_id, kind, tokens, from_free, from_purchased, precise, period, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, e.ID, e.UserID, e.Kind, e.Tokens, e.FromFree, e.FromPurchased, e.Precise,
			string(e.Period), e.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert usage entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// ListEntries returns a user's entries, newest first.
func (p *PostgresStore) ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, kind, tokens, from_free, from_purchased, precise, period, created_at
		FROM usage_entries WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var period string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Tokens, &e.FromFree, &e.FromPurchased,
			&e.Precise, &period, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Period = units.Period(period)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes an account and its history.
func (p *PostgresStore) Delete(ctx context.Context, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM usage_accounts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete usage account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM usage_entries WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete usage entries: %w", err)
	}
	return tx.Commit()
}

// isRetryable reports whether err is a serialization failure or deadlock.
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scannable) (*Account, error) {
	a := &Account{}
	var period string
	if err := row.Scan(
		&a.UserID, &a.FreeAllowanceTotal, &a.FreeAllowanceUsed, &a.PurchasedTotal, &a.PurchasedUsed,
		&period, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if period != "" {
		p, err := units.ParsePeriod(period)
		if err != nil {
			return nil, fmt.Errorf("usage account %s: %w", a.UserID, err)
		}
		a.LastResetPeriod = p
	}
	return a, nil
}
