package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

func testOrder(id int64, kind domain.OrderKind) *domain.StrikeOrder {
	return &domain.StrikeOrder{
		OrderID:          id,
		Investor:         "investor",
		Kind:             kind,
		Amount:           decimal.NewFromInt(100),
		TargetStrikeTime: time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC),
		Status:           domain.OrderStatusPending,
		Attempt:          1,
	}
}

func TestOrderStore_InsertAndGetByID(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testOrder(1, domain.OrderKindSubscribe)))

	got, err := store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderKindSubscribe, got.Kind)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)))

	// returned value is a copy
	got.Status = domain.OrderStatusExecuted
	again, err := store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, again.Status)

	_, err = store.GetByID(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_DuplicateAndInvalid(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testOrder(1, domain.OrderKindSubscribe)))
	assert.ErrorIs(t, store.Insert(ctx, testOrder(1, domain.OrderKindRedeem)), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.Insert(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Insert(ctx, testOrder(0, domain.OrderKindRedeem)), storage.ErrInvalidInput)
}

func TestOrderStore_UpdateStatus(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Insert(ctx, testOrder(1, domain.OrderKindSubscribe)))
	require.NoError(t, store.UpdateStatus(ctx, 1, domain.OrderStatusFailed, "rejected", now))

	got, err := store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)
	assert.Equal(t, "rejected", got.FailureReason)
	require.NotNil(t, got.SettledAt)

	// one-way
	assert.ErrorIs(t, store.UpdateStatus(ctx, 1, domain.OrderStatusExecuted, "", now), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.UpdateStatus(ctx, 1, domain.OrderStatusPending, "", now), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.UpdateStatus(ctx, 9, domain.OrderStatusExecuted, "", now), storage.ErrNotFound)
}

func TestOrderStore_ListByStatusAndMaxID(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, store.Insert(ctx, testOrder(id, domain.OrderKindSubscribe)))
	}
	require.NoError(t, store.UpdateStatus(ctx, 2, domain.OrderStatusExecuted, "", time.Now()))
	require.NoError(t, store.Delete(ctx, 3))

	pending, err := store.ListByStatus(ctx, domain.OrderStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].OrderID)

	maxID, err := store.MaxOrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxID, "deleted ids are never reissued")

	assert.ErrorIs(t, store.Delete(ctx, 2), storage.ErrNotFound, "terminal orders are kept")
}
