package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/resolve"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgresWithPool(mock)
	return s, mock
}

func TestPostgresStore_GetByName_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM entities WHERE norm_name = \$1`).
		WithArgs("unknown co").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetByName(context.Background(), "unknown co")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAlias_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM aliases a JOIN entities e`).
		WithArgs("nosuch").
		WillReturnError(pgx.ErrNoRows)

	hit, err := s.GetAlias(context.Background(), "nosuch")
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TryAcquire_Won(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO job_locks`).
		WithArgs("tata motors", "owner-1", string(joblock.StatusProcessing), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := s.TryAcquire(context.Background(), "tata motors", "owner-1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TryAcquire_LostRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Guard clause filtered the upsert: zero rows means someone else holds it.
	mock.ExpectExec(`INSERT INTO job_locks`).
		WithArgs("tata motors", "owner-2", string(joblock.StatusProcessing), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := s.TryAcquire(context.Background(), "tata motors", "owner-2", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_ExpiredProcessingHidden(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.WithNow(func() time.Time { return now })

	mock.ExpectQuery(`SELECT key, owner, status, acquired_at, expires_at, result FROM job_locks`).
		WithArgs("stale job").
		WillReturnRows(pgxmock.NewRows(
			[]string{"key", "owner", "status", "acquired_at", "expires_at", "result"},
		).AddRow("stale job", "owner-1", string(joblock.StatusProcessing),
			now.Add(-10*time.Minute), now.Add(-5*time.Minute), []byte(nil)))

	l, err := s.Get(context.Background(), "stale job")
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Release(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE job_locks SET status`).
		WithArgs(string(joblock.StatusCompleted), []byte(`{"ok":true}`),
			"tata motors", "owner-1", string(joblock.StatusProcessing)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.Release(context.Background(), "tata motors", "owner-1",
		joblock.StatusCompleted, []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM job_locks`).
		WithArgs(string(joblock.StatusProcessing), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LogResolution(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO resolution_log`).
		WithArgs("Harpic", "harpic", pgxmock.AnyArg(), "Reckitt Benckiser India",
			string(resolve.MethodAlias), 98, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.LogResolution(context.Background(), resolve.AuditEntry{
		Query:      "Harpic",
		NormQuery:  "harpic",
		EntityName: "Reckitt Benckiser India",
		Method:     resolve.MethodAlias,
		Confidence: 98,
		LatencyMS:  4,
		ResolvedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolutionStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM resolution_log`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"method", "count", "avg_conf", "avg_lat"}).
			AddRow("exact", 6, 100.0, 2.0).
			AddRow("fuzzy", 2, 80.0, 9.0).
			AddRow("none", 2, 0.0, 12.0))

	stats, err := s.ResolutionStats(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 2, stats.Unresolved)
	assert.Equal(t, 6, stats.ByMethod["exact"])
	assert.InDelta(t, 76.0, stats.AvgConfidence, 0.01)
	assert.NoError(t, mock.ExpectationsWereMet())
}
