package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

func TestFundStateStore_SaveLoad(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFundStateStore(pool)
	ctx := context.Background()

	_, err := store.Load(ctx, "fund-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	st := &domain.FundState{
		FundID:                 "fund-1",
		CurrentNAV:             dec("1"),
		TotalAUM:               dec("0"),
		TotalSharesOutstanding: dec("0"),
		StrikeSchedule:         []string{"09:30", "16:00"},
		UpdatedAt:              baseTime,
	}
	require.NoError(t, store.Save(ctx, st))

	got, err := store.Load(ctx, "fund-1")
	require.NoError(t, err)
	assert.Nil(t, got.LastStrikeTime)
	assert.Equal(t, []string{"09:30", "16:00"}, got.StrikeSchedule)

	// Upsert overwrites.
	st.CurrentNAV = dec("1.02")
	st.TotalAUM = dec("349")
	st.TotalSharesOutstanding = dec("350")
	st.LastStrikeTime = ptr(baseTime)
	require.NoError(t, store.Save(ctx, st))

	got, err = store.Load(ctx, "fund-1")
	require.NoError(t, err)
	assert.True(t, got.CurrentNAV.Equal(dec("1.02")))
	assert.True(t, got.TotalAUM.Equal(dec("349")))
	assert.True(t, got.TotalSharesOutstanding.Equal(dec("350")))
	require.NotNil(t, got.LastStrikeTime)
	assert.True(t, got.LastStrikeTime.Equal(baseTime))
}
