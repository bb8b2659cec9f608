package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/resolve"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intel.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedEntity(t *testing.T, s Store, rec entity.Record) entity.Record {
	t.Helper()
	require.NoError(t, s.UpsertEntity(context.Background(), &rec))
	return rec
}

func TestSQLiteStore_UpsertAndGetByName(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := seedEntity(t, s, entity.Record{
		Name:     "Tata Consultancy Services",
		NormName: "tata consultancy services",
		Kind:     entity.KindCompany,
		Tickers:  []string{"TCS"},
		Sector:   "IT",
		Region:   "IN",
		Verified: true,
	})
	assert.NotZero(t, rec.ID)

	got, err := s.GetByName(ctx, "tata consultancy services")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []string{"TCS"}, got.Tickers)
	assert.True(t, got.Verified)

	missing, err := s.GetByName(ctx, "nonexistent co")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_UpsertEntity_IdempotentOnNormName(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first := seedEntity(t, s, entity.Record{
		Name: "Infosys Ltd", NormName: "infosys", Kind: entity.KindCompany,
	})
	second := seedEntity(t, s, entity.Record{
		Name: "Infosys Limited", NormName: "infosys", Kind: entity.KindCompany, Sector: "IT",
	})
	assert.Equal(t, first.ID, second.ID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Infosys Limited", all[0].Name)
	assert.Equal(t, "IT", all[0].Sector)
}

func TestSQLiteStore_GetByTicker(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := seedEntity(t, s, entity.Record{
		Name: "Reliance Industries", NormName: "reliance industries",
		Kind: entity.KindCompany, Tickers: []string{"RELIANCE"},
	})

	got, err := s.GetByTicker(ctx, "reliance")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	missing, err := s.GetByTicker(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_AliasRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	parent := seedEntity(t, s, entity.Record{
		Name: "Hindustan Unilever", NormName: "hindustan unilever", Kind: entity.KindCompany,
	})
	require.NoError(t, s.UpsertAlias(ctx, &entity.Alias{
		EntityID: parent.ID, Alias: "HUL", NormAlias: "hul", Kind: entity.AliasSynonym,
	}))

	hit, err := s.GetAlias(ctx, "hul")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, parent.ID, hit.Entity.ID)
	assert.Equal(t, entity.AliasSynonym, hit.Alias.Kind)

	miss, err := s.GetAlias(ctx, "nosuch")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestSQLiteStore_ListByKind(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	seedEntity(t, s, entity.Record{Name: "Zomato", NormName: "zomato", Kind: entity.KindParent})
	seedEntity(t, s, entity.Record{Name: "Blinkit", NormName: "blinkit", Kind: entity.KindBrand})

	parents, err := s.ListByKind(ctx, entity.KindParent)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "Zomato", parents[0].Name)
}

func TestSQLiteStore_LockLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "acme corp", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second caller loses while the first holds processing.
	ok, err = s.TryAcquire(ctx, "acme corp", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	l, err := s.Get(ctx, "acme corp")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "owner-1", l.Owner)
	assert.Equal(t, joblock.StatusProcessing, l.Status)

	require.NoError(t, s.Release(ctx, "acme corp", "owner-1", joblock.StatusCompleted, []byte(`{"v":1}`)))

	l, err = s.Get(ctx, "acme corp")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, joblock.StatusCompleted, l.Status)
	assert.Equal(t, []byte(`{"v":1}`), l.Result)

	// Terminal lock is overwritable.
	ok, err = s.TryAcquire(ctx, "acme corp", "owner-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_ExpiredLockIsReacquirable(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.WithNow(func() time.Time { return now })

	ok, err := s.TryAcquire(ctx, "slow job", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Crash scenario: no release, clock passes the TTL.
	now = now.Add(2 * time.Minute)

	l, err := s.Get(ctx, "slow job")
	require.NoError(t, err)
	assert.Nil(t, l)

	ok, err = s.TryAcquire(ctx, "slow job", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_ReleaseWrongOwnerIsNoOp(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "guarded", "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, "guarded", "intruder", joblock.StatusFailed, nil))

	l, err := s.Get(ctx, "guarded")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, joblock.StatusProcessing, l.Status)
	assert.Equal(t, "owner-1", l.Owner)
}

func TestSQLiteStore_DeleteExpired(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.WithNow(func() time.Time { return now })

	ok, err := s.TryAcquire(ctx, "done job", "o1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Release(ctx, "done job", "o1", joblock.StatusCompleted, nil))

	ok, err = s.TryAcquire(ctx, "dead job", "o2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(3 * time.Hour)

	n, err := s.DeleteExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteStore_ResolutionStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []resolve.AuditEntry{
		{Query: "TCS", NormQuery: "tcs", Method: resolve.MethodExact, Confidence: 100, LatencyMS: 1, ResolvedAt: now},
		{Query: "Harpic", NormQuery: "harpic", Method: resolve.MethodAlias, Confidence: 98, LatencyMS: 2, ResolvedAt: now},
		{Query: "gibberish", NormQuery: "gibberish", Method: resolve.MethodNone, Confidence: 0, LatencyMS: 8, ResolvedAt: now},
		{Query: "old", NormQuery: "old", Method: resolve.MethodExact, Confidence: 100, LatencyMS: 1, ResolvedAt: now.Add(-48 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, s.LogResolution(ctx, e))
	}

	stats, err := s.ResolutionStats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Unresolved)
	assert.Equal(t, 1, stats.ByMethod[string(resolve.MethodAlias)])
	assert.InDelta(t, 66.0, stats.AvgConfidence, 1.0)
}
