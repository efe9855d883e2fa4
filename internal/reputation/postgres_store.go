package reputation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by the expert_stats table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed statistics store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const statsColumns = `expert_id, total_sessions, avg_rating, review_count, repeat_clients, like_count,
			ranking_score, level, tier_label, credits_per_minute, ranking, total_experts,
			created_at, updated_at`

// Get retrieves one expert's record.
func (p *PostgresStore) Get(ctx context.Context, expertID string) (*Stats, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+statsColumns+` FROM expert_stats WHERE expert_id = $1`, expertID)
	st, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get expert stats: %w", err)
	}
	return st, nil
}

// Update locks the row (creating it if needed), applies fn and writes the
// result back in one transaction.
func (p *PostgresStore) Update(ctx context.Context, expertID string, fn func(*Stats) error) (*Stats, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO expert_stats (expert_id) VALUES ($1)
		ON CONFLICT (expert_id) DO NOTHING
	`, expertID); err != nil {
		return nil, fmt.Errorf("ensure expert stats: %w", err)
	}

	st, err := scanStats(tx.QueryRowContext(ctx,
		`SELECT `+statsColumns+` FROM expert_stats WHERE expert_id = $1 FOR UPDATE`, expertID))
	if err != nil {
		return nil, fmt.Errorf("lock expert stats: %w", err)
	}

	if err := fn(st); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE expert_stats SET
			total_sessions     = $2,
			avg_rating         = $3,
			review_count       = $4,
			repeat_clients     = $5,
			like_count         = $6,
			ranking_score      = $7,
			level              = $8,
			tier_label         = $9,
			credits_per_minute = $10,
			updated_at         = $11
		WHERE expert_id = $1
	`,
		st.ExpertID, st.TotalSessions, st.AvgRating, st.ReviewCount, st.RepeatClients, st.LikeCount,
		st.RankingScore, st.Level, st.TierLabel, st.CreditsPerMinute, st.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update expert stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return st, nil
}

// List returns all records ordered by expert id.
func (p *PostgresStore) List(ctx context.Context) ([]*Stats, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+statsColumns+` FROM expert_stats ORDER BY expert_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list expert stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Stats
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveRankings updates ranking positions in a single transaction.
func (p *PostgresStore) SaveRankings(ctx context.Context, entries []RankEntry, totalExperts int) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE expert_stats SET ranking = $2, total_experts = $3
		WHERE expert_id = $1`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ExpertID, e.Ranking, totalExperts); err != nil {
			return fmt.Errorf("save ranking for %s: %w", e.ExpertID, err)
		}
	}
	return tx.Commit()
}

// Delete removes an expert's record.
func (p *PostgresStore) Delete(ctx context.Context, expertID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM expert_stats WHERE expert_id = $1`, expertID)
	if err != nil {
		return fmt.Errorf("delete expert stats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanStats(row scannable) (*Stats, error) {
	st := &Stats{}
	err := row.Scan(
		&st.ExpertID, &st.TotalSessions, &st.AvgRating, &st.ReviewCount, &st.RepeatClients, &st.LikeCount,
		&st.RankingScore, &st.Level, &st.TierLabel, &st.CreditsPerMinute, &st.Ranking, &st.TotalExperts,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}
