package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

func TestUnresolvedStore_Lifecycle(t *testing.T) {
	store := NewUnresolvedStore()
	ctx := context.Background()

	for _, u := range []*domain.UnresolvedSettlement{
		{IdempotencyKey: "k3", OrderID: 3, Kind: domain.OrderKindRedeem},
		{IdempotencyKey: "k1", OrderID: 1, Kind: domain.OrderKindSubscribe},
	} {
		require.NoError(t, store.Insert(ctx, u))
	}
	assert.ErrorIs(t, store.Insert(ctx, &domain.UnresolvedSettlement{IdempotencyKey: "k1", OrderID: 9}), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.Insert(ctx, &domain.UnresolvedSettlement{}), storage.ErrInvalidInput)

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, int64(1), open[0].OrderID)
	assert.Equal(t, int64(3), open[1].OrderID)

	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Resolve(ctx, "k1", "CONFIRMED", "ref-1", at))
	assert.ErrorIs(t, store.Resolve(ctx, "k1", "FAILED", "", at), storage.ErrNotFound)
	assert.ErrorIs(t, store.Resolve(ctx, "missing", "FAILED", "", at), storage.ErrNotFound)

	open, err = store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "k3", open[0].IdempotencyKey)
}
