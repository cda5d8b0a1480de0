package fund

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nav-strike-engine/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(domain.FundState{
		FundID:         "fund-1",
		CurrentNAV:     d("1.0"),
		StrikeSchedule: []string{"09:30", "12:00"},
	}, nil)
	require.NoError(t, err)
	return l
}

func TestNewLedger_Validation(t *testing.T) {
	_, err := NewLedger(domain.FundState{FundID: "f", CurrentNAV: d("0")}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewLedger(domain.FundState{CurrentNAV: d("1")}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewLedger(domain.FundState{FundID: "f", CurrentNAV: d("1"), TotalAUM: d("-1")}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_FixNAV(t *testing.T) {
	l := newTestLedger(t)
	at := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

	require.NoError(t, l.FixNAV(d("1.02"), at))

	s := l.Snapshot()
	assert.True(t, s.CurrentNAV.Equal(d("1.02")))
	require.NotNil(t, s.LastStrikeTime)
	assert.Equal(t, at, *s.LastStrikeTime)

	err := l.FixNAV(d("-1"), at)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.True(t, l.Snapshot().CurrentNAV.Equal(d("1.02")))
}

func TestLedger_ApplyAndClamp(t *testing.T) {
	l := newTestLedger(t)

	l.ApplySubscription(d("400"), d("400"))
	l.ApplyRedemption(d("51"), d("50"))

	s := l.Snapshot()
	assert.True(t, s.TotalAUM.Equal(d("349")))
	assert.True(t, s.TotalSharesOutstanding.Equal(d("350")))
	assert.False(t, l.ClampAUM())

	l.ApplyRedemption(d("349.000001"), d("0"))
	assert.True(t, l.ClampAUM())
	assert.True(t, l.Snapshot().TotalAUM.IsZero())
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := newTestLedger(t)
	s := l.Snapshot()
	s.StrikeSchedule[0] = "00:00"
	assert.Equal(t, "09:30", l.Snapshot().StrikeSchedule[0])
}

func TestLedger_ConcurrentApply(t *testing.T) {
	l := newTestLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ApplySubscription(d("1.000001"), d("1"))
		}()
	}
	wg.Wait()

	s := l.Snapshot()
	assert.True(t, s.TotalAUM.Equal(d("100.0001")))
	assert.True(t, s.TotalSharesOutstanding.Equal(d("100")))
}
