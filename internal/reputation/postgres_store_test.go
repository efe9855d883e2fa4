package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statsCols = []string{
	"expert_id", "total_sessions", "avg_rating", "review_count", "repeat_clients", "like_count",
	"ranking_score", "level", "tier_label", "credits_per_minute", "ranking", "total_experts",
	"created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM expert_stats WHERE expert_id = \\$1").
		WithArgs("exp_1").
		WillReturnRows(sqlmock.NewRows(statsCols))

	_, err := store.Get(context.Background(), "exp_1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT .+ FROM expert_stats WHERE expert_id = \\$1").
		WithArgs("exp_1").
		WillReturnRows(sqlmock.NewRows(statsCols).
			AddRow("exp_1", 10, 4.5, 3, 2, 7, 23.4, 45, "Fresh Mind", 100, 3, 9, now, now))

	st, err := store.Get(context.Background(), "exp_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.TotalSessions)
	assert.Equal(t, 4.5, st.AvgRating)
	assert.Equal(t, 45, st.Level)
	assert.Equal(t, 3, st.Ranking)
	assert.Equal(t, 9, st.TotalExperts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLocksRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO expert_stats .+ ON CONFLICT \\(expert_id\\) DO NOTHING").
		WithArgs("exp_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .+ FROM expert_stats WHERE expert_id = \\$1 FOR UPDATE").
		WithArgs("exp_1").
		WillReturnRows(sqlmock.NewRows(statsCols).
			AddRow("exp_1", 0, 0.0, 0, 0, 0, 0.0, 1, "Fresh Mind", 100, 0, 0, now, now))
	mock.ExpectExec("UPDATE expert_stats SET").
		WithArgs("exp_1", int64(1), 0.0, int64(0), int64(0), int64(0), 0.04, 1, "Fresh Mind", int64(100), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	st, err := store.Update(context.Background(), "exp_1", func(st *Stats) error {
		st.TotalSessions++
		st.RankingScore = 0.04
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalSessions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRollsBackOnCallbackError(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO expert_stats").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(statsCols).
			AddRow("exp_1", 0, 0.0, 0, 0, 0, 0.0, 1, "Fresh Mind", 100, 0, 0, now, now))
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := store.Update(context.Background(), "exp_1", func(*Stats) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM expert_stats ORDER BY expert_id ASC").
		WillReturnRows(sqlmock.NewRows(statsCols).
			AddRow("exp_a", 1, 5.0, 1, 0, 0, 30.04, 58, "Fresh Mind", 100, 0, 0, now, now).
			AddRow("exp_b", 0, 0.0, 0, 0, 0, 0.0, 1, "Fresh Mind", 100, 0, 0, now, now))

	all, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "exp_a", all[0].ExpertID)
	assert.Equal(t, "exp_b", all[1].ExpertID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRankings(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`UPDATE expert_stats SET ranking = \$2, total_experts = \$3`)
	prep.ExpectExec().WithArgs("exp_b", 1, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("exp_a", 2, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SaveRankings(context.Background(), []RankEntry{
		{ExpertID: "exp_b", RankingScore: 100, Level: 999, TierLabel: "Legend", CreditsPerMinute: 600, Ranking: 1},
		{ExpertID: "exp_a", RankingScore: 10, Level: 19, TierLabel: "Fresh Mind", CreditsPerMinute: 100, Ranking: 2},
	}, 2)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM expert_stats WHERE expert_id = \\$1").
		WithArgs("exp_1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM expert_stats WHERE expert_id = \\$1").
		WithArgs("exp_2").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Delete(context.Background(), "exp_1"))
	assert.ErrorIs(t, store.Delete(context.Background(), "exp_2"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
