package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

func sampleReport(id string, at time.Time) *domain.StrikeReport {
	return &domain.StrikeReport{
		StrikeID:               id,
		StrikeTime:             at,
		NAV:                    dec("1.02"),
		SubscriptionsProcessed: 1,
		TotalValueSubscribed:   dec("100"),
		TotalSharesMinted:      dec("98.039215"),
		RedemptionsProcessed:   1,
		TotalSharesRedeemed:    dec("50"),
		TotalValuePaid:         dec("51"),
		Receipts: []domain.SettlementReceipt{
			{
				StrikeID: id, OrderID: 1, Investor: "inv-1", Kind: domain.OrderKindSubscribe,
				Reference: "tx-1", IdempotencyKey: "k1", ExecutionNAV: dec("1.02"),
				ValueAmount: dec("100"), ShareAmount: dec("98.039215"), SettledAt: at,
			},
			{
				StrikeID: id, OrderID: 2, Investor: "inv-2", Kind: domain.OrderKindRedeem,
				Reference: "tx-2", IdempotencyKey: "k2", ExecutionNAV: dec("1.02"),
				ValueAmount: dec("51"), ShareAmount: dec("50"), SettledAt: at,
			},
		},
		Failures: []domain.OrderFailure{
			{OrderID: 3, Investor: "inv-3", Kind: domain.OrderKindSubscribe, Amount: dec("7"), Reason: "timeout", TimedOut: true},
		},
		Requeued:   []int64{4},
		AUMClamped: true,
		StartedAt:  at,
		FinishedAt: at.Add(time.Second),
	}
}

func TestStrikeReportStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrikeReportStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleReport("s-1", baseTime)))

	got, err := store.GetByID(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, got.NAV.Equal(dec("1.02")))
	assert.True(t, got.TotalSharesMinted.Equal(dec("98.039215")))
	assert.True(t, got.TotalValuePaid.Equal(dec("51")))
	assert.Equal(t, 1, got.SubscriptionsProcessed)
	assert.Equal(t, 1, got.RedemptionsProcessed)
	assert.Equal(t, []int64{4}, got.Requeued)
	assert.True(t, got.AUMClamped)

	require.Len(t, got.Receipts, 2)
	assert.Equal(t, int64(1), got.Receipts[0].OrderID)
	assert.Equal(t, "s-1", got.Receipts[0].StrikeID)
	assert.Equal(t, "tx-2", got.Receipts[1].Reference)
	assert.True(t, got.Receipts[1].ValueAmount.Equal(dec("51")))

	require.Len(t, got.Failures, 1)
	assert.True(t, got.Failures[0].TimedOut)
	assert.Equal(t, "timeout", got.Failures[0].Reason)

	assert.ErrorIs(t, store.Insert(ctx, sampleReport("s-1", baseTime)), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStrikeReportStore_ListRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStrikeReportStore(pool)
	ctx := context.Background()

	for i, id := range []string{"s-a", "s-b", "s-c"} {
		r := sampleReport(id, baseTime.Add(time.Duration(i)*time.Hour))
		r.Requeued = nil
		require.NoError(t, store.Insert(ctx, r))
	}

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s-c", recent[0].StrikeID)
	assert.Equal(t, "s-b", recent[1].StrikeID)
	assert.Len(t, recent[0].Receipts, 2)
	assert.Empty(t, recent[0].Requeued)

	all, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
