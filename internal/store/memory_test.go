package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/joblock"
)

func TestMemoryStore_EntityRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rec := entity.Record{
		Name: "Asian Paints", NormName: "asian paints",
		Kind: entity.KindCompany, Tickers: []string{"ASIANPAINT"},
	}
	require.NoError(t, s.UpsertEntity(ctx, &rec))
	require.NotZero(t, rec.ID)

	byName, err := s.GetByName(ctx, "asian paints")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, rec.ID, byName.ID)

	byTicker, err := s.GetByTicker(ctx, "asianpaint")
	require.NoError(t, err)
	require.NotNil(t, byTicker)
	assert.Equal(t, rec.ID, byTicker.ID)

	// Same norm name updates in place.
	again := entity.Record{Name: "Asian Paints Ltd", NormName: "asian paints", Kind: entity.KindCompany}
	require.NoError(t, s.UpsertEntity(ctx, &again))
	assert.Equal(t, rec.ID, again.ID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_AliasHitCarriesEntity(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rec := entity.Record{Name: "Zomato", NormName: "zomato", Kind: entity.KindParent}
	require.NoError(t, s.UpsertEntity(ctx, &rec))
	require.NoError(t, s.UpsertAlias(ctx, &entity.Alias{
		EntityID: rec.ID, Alias: "Blinkit", NormAlias: "blinkit", Kind: entity.AliasBrand,
	}))

	hit, err := s.GetAlias(ctx, "blinkit")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "Zomato", hit.Entity.Name)
	assert.Equal(t, entity.AliasBrand, hit.Alias.Kind)
}

func TestMemoryStore_LockContention(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAcquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "k", "a", joblock.StatusCompleted, nil))

	ok, err = s.TryAcquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_ExpiredProcessingLockHidden(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemory().WithNow(func() time.Time { return now })
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Hour)

	l, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, l)

	ok, err = s.TryAcquire(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
