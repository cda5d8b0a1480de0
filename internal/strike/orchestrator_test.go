package strike

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/events"
	"nav-strike-engine/internal/fund"
	"nav-strike-engine/internal/gateway"
	"nav-strike-engine/internal/gateway/stub"
	"nav-strike-engine/internal/queue"
	"nav-strike-engine/internal/schedule"
	"nav-strike-engine/internal/settlement"
	"nav-strike-engine/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	gw         *stub.Gateway
	ledger     *fund.Ledger
	queue      *queue.Queue
	reports    *memory.StrikeReportStore
	fundStates *memory.FundStateStore
	unresolved *memory.UnresolvedStore
	analytics  *memory.ReceiptAnalyticsStore
	events     *events.Recorder
	orch       *Orchestrator
}

type harnessOpt func(*Options)

// testingT is satisfied by *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

func newHarness(t testingT, aum, shares string, opts ...harnessOpt) *harness {
	t.Helper()
	sched, err := schedule.New([]string{"09:30", "12:00"}, time.UTC)
	require.NoError(t, err)

	ledger, err := fund.NewLedger(domain.FundState{
		FundID:                 "fund-1",
		CurrentNAV:             dec("1"),
		TotalAUM:               dec(aum),
		TotalSharesOutstanding: dec(shares),
	}, nil)
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	h := &harness{
		gw:         stub.New(),
		ledger:     ledger,
		reports:    memory.NewStrikeReportStore(),
		fundStates: memory.NewFundStateStore(),
		unresolved: memory.NewUnresolvedStore(),
		analytics:  memory.NewReceiptAnalyticsStore(),
		events:     &events.Recorder{},
	}
	h.queue = queue.New(queue.Options{Scheduler: sched, Store: memory.NewOrderStore(), Clock: clock})

	proc, err := settlement.NewProcessor(context.Background(), settlement.Options{
		Gateway:             h.gw,
		Ledger:              ledger,
		Orders:              h.queue,
		Accounts:            settlement.Accounts{Settlement: "vault", ShareIssuer: "issuer"},
		Unresolved:          h.unresolved,
		ConfirmationTimeout: time.Second,
	})
	require.NoError(t, err)

	o := Options{
		Ledger:     ledger,
		Queue:      h.queue,
		Settler:    proc,
		Publisher:  h.gw,
		Reports:    h.reports,
		FundStates: h.fundStates,
		Unresolved: h.unresolved,
		Analytics:  h.analytics,
		Events:     h.events,
		Workers:    4,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.orch, err = New(o)
	require.NoError(t, err)
	return h
}

func (h *harness) enqueue(t testingT, investor string, kind domain.OrderKind, amount string) domain.StrikeOrder {
	o, err := h.queue.Enqueue(context.Background(), investor, kind, dec(amount))
	require.NoError(t, err)
	return o
}

func TestExecuteStrike_EndToEnd(t *testing.T) {
	h := newHarness(t, "0", "0")
	ctx := context.Background()

	a := h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "250")
	b := h.enqueue(t, "investor-b", domain.OrderKindSubscribe, "150")
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), a.TargetStrikeTime)

	r1, err := h.orch.ExecuteStrike(ctx, dec("1.0"))
	require.NoError(t, err)
	require.Len(t, r1.Receipts, 2)
	assert.Equal(t, a.OrderID, r1.Receipts[0].OrderID)
	assert.True(t, dec("250").Equal(r1.Receipts[0].ShareAmount))
	assert.Equal(t, b.OrderID, r1.Receipts[1].OrderID)
	assert.True(t, dec("150").Equal(r1.Receipts[1].ShareAmount))
	assert.Equal(t, 2, r1.SubscriptionsProcessed)
	assert.True(t, dec("400").Equal(r1.TotalValueSubscribed))
	assert.True(t, dec("400").Equal(r1.TotalSharesMinted))

	st := h.ledger.Snapshot()
	assert.True(t, dec("400").Equal(st.TotalAUM))
	assert.True(t, dec("400").Equal(st.TotalSharesOutstanding))

	h.enqueue(t, "investor-b", domain.OrderKindRedeem, "50")
	r2, err := h.orch.ExecuteStrike(ctx, dec("1.02"))
	require.NoError(t, err)
	require.Len(t, r2.Receipts, 1)
	assert.True(t, dec("51.00").Equal(r2.TotalValuePaid))
	assert.True(t, dec("50").Equal(r2.TotalSharesRedeemed))
	assert.Equal(t, 1, r2.RedemptionsProcessed)

	st = h.ledger.Snapshot()
	assert.True(t, dec("349.00").Equal(st.TotalAUM), st.TotalAUM.String())
	assert.True(t, dec("350").Equal(st.TotalSharesOutstanding))
	assert.True(t, dec("1.02").Equal(st.CurrentNAV))
	require.NotNil(t, st.LastStrikeTime)

	assert.Equal(t, domain.StrikePhaseComplete, h.orch.Phase())
	assert.Equal(t, r2, h.orch.LastReport())
	assert.Zero(t, h.queue.Len(), "terminal orders purged")

	v, ok := h.gw.Metadata("fund-1", domain.MetadataKeyNAV)
	require.True(t, ok)
	assert.Equal(t, "1.02", v)
	v, _ = h.gw.Metadata("fund-1", domain.MetadataKeyTotalAUM)
	assert.Equal(t, "349", v)
	_, ok = h.gw.Metadata("fund-1", domain.MetadataKeyLastStrikeTime)
	assert.True(t, ok)

	saved, err := h.fundStates.Load(ctx, "fund-1")
	require.NoError(t, err)
	assert.True(t, dec("349").Equal(saved.TotalAUM))

	stored, err := h.reports.GetByID(ctx, r2.StrikeID)
	require.NoError(t, err)
	assert.Equal(t, r2.StrikeID, stored.StrikeID)

	assert.Len(t, h.events.OfType(events.TypeStrikeCompleted), 2)

	executed := h.events.OfType(events.TypeOrderExecuted)
	require.Len(t, executed, 3)
	last, ok := executed[2].Payload.(orderExecuted)
	require.True(t, ok)
	assert.Equal(t, r2.StrikeID, last.StrikeID)
	assert.Equal(t, "investor-b", last.Investor)
	assert.Equal(t, domain.OrderKindRedeem.String(), last.Kind)
	assert.True(t, dec("51").Equal(last.ValueAmount))
	assert.Equal(t, r2.Receipts[0].Reference, last.Reference)
	assert.Equal(t, "fund-1", executed[2].Key)
}

func TestExecuteStrike_SingleNAVPerReport(t *testing.T) {
	h := newHarness(t, "1000", "1000")
	for i := 0; i < 10; i++ {
		h.enqueue(t, fmt.Sprintf("inv-%d", i), domain.OrderKindSubscribe, "10")
		h.enqueue(t, fmt.Sprintf("inv-%d", i), domain.OrderKindRedeem, "3")
	}

	r, err := h.orch.ExecuteStrike(context.Background(), dec("1.2345"))
	require.NoError(t, err)
	require.Len(t, r.Receipts, 20)
	for _, rc := range r.Receipts {
		assert.True(t, dec("1.2345").Equal(rc.ExecutionNAV))
	}
}

func TestExecuteStrike_SubmissionFailureIsolated(t *testing.T) {
	h := newHarness(t, "0", "0")
	h.gw.SubmitErr = func(req gateway.TransferRequest) error {
		if req.Legs[0].From == "investor-bad" {
			return errors.New("connection reset")
		}
		return nil
	}

	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "100")
	bad := h.enqueue(t, "investor-bad", domain.OrderKindSubscribe, "500")
	h.enqueue(t, "investor-c", domain.OrderKindSubscribe, "50")

	r, err := h.orch.ExecuteStrike(context.Background(), dec("1"))
	require.NoError(t, err, "per-order failures never abort a strike")

	assert.Len(t, r.Receipts, 2)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, bad.OrderID, r.Failures[0].OrderID)
	assert.False(t, r.Failures[0].TimedOut)
	assert.Contains(t, r.Failures[0].Reason, "connection reset")

	st := h.ledger.Snapshot()
	assert.True(t, dec("150").Equal(st.TotalAUM))
	assert.True(t, dec("150").Equal(st.TotalSharesOutstanding))
	assert.Len(t, h.events.OfType(events.TypeOrderFailed), 1)
	assert.Zero(t, h.queue.Len(), "failed orders dropped by default")
}

func TestExecuteStrike_TimeoutThenReconcile(t *testing.T) {
	h := newHarness(t, "0", "0")
	h.gw.Decide = func(req gateway.TransferRequest) stub.Outcome {
		if req.Legs[0].From == "investor-slow" {
			return stub.OutcomeTimeout
		}
		return stub.OutcomeConfirm
	}
	ctx := context.Background()

	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "100")
	slow := h.enqueue(t, "investor-slow", domain.OrderKindSubscribe, "40")

	r, err := h.orch.ExecuteStrike(ctx, dec("1"))
	require.NoError(t, err)
	require.Len(t, r.Failures, 1)
	assert.True(t, r.Failures[0].TimedOut)
	assert.True(t, dec("100").Equal(h.ledger.Snapshot().TotalAUM))

	res, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.StillOpen)

	for _, tr := range h.gw.Transfers() {
		if tr.Request.Legs[0].From == "investor-slow" {
			h.gw.Land(tr.Request.IdempotencyKey)
		}
	}

	res, err = h.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	require.Len(t, res.Receipts, 1)
	assert.Equal(t, slow.OrderID, res.Receipts[0].OrderID)
	assert.True(t, res.Receipts[0].Late)

	st := h.ledger.Snapshot()
	assert.True(t, dec("140").Equal(st.TotalAUM))
	assert.True(t, dec("140").Equal(st.TotalSharesOutstanding))
	assert.Len(t, h.events.OfType(events.TypeLateSettlement), 1)

	flows, err := h.analytics.DailyFlows(ctx, time.Time{}, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	var orders int64
	for _, f := range flows {
		orders += f.Orders
	}
	assert.Equal(t, int64(2), orders, "late receipt lands in analytics")
}

func TestExecuteStrike_RetryPolicy(t *testing.T) {
	h := newHarness(t, "0", "0", func(o *Options) { o.Retry = RetryPolicy{MaxAttempts: 2} })
	var fail sync.Map
	fail.Store("investor-x", true)
	h.gw.SubmitErr = func(req gateway.TransferRequest) error {
		if _, ok := fail.Load(req.Legs[0].From); ok {
			return errors.New("node unavailable")
		}
		return nil
	}
	ctx := context.Background()

	first := h.enqueue(t, "investor-x", domain.OrderKindSubscribe, "10")

	r1, err := h.orch.ExecuteStrike(ctx, dec("1"))
	require.NoError(t, err)
	require.Len(t, r1.Requeued, 1)
	retry, err := h.queue.Get(r1.Requeued[0])
	require.NoError(t, err)
	assert.Equal(t, 2, retry.Attempt)
	require.NotNil(t, retry.ParentOrderID)
	assert.Equal(t, first.OrderID, *retry.ParentOrderID)
	assert.Equal(t, domain.OrderStatusPending, retry.Status)

	// second attempt fails too and attempts are exhausted
	r2, err := h.orch.ExecuteStrike(ctx, dec("1"))
	require.NoError(t, err)
	assert.Empty(t, r2.Requeued)
	assert.Zero(t, h.queue.Len())
}

func TestExecuteStrike_RetryPolicySkipsTimeouts(t *testing.T) {
	h := newHarness(t, "0", "0", func(o *Options) { o.Retry = RetryPolicy{MaxAttempts: 3} })
	h.gw.Decide = func(gateway.TransferRequest) stub.Outcome { return stub.OutcomeTimeout }

	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "10")
	r, err := h.orch.ExecuteStrike(context.Background(), dec("1"))
	require.NoError(t, err)
	assert.Empty(t, r.Requeued, "outcome unknown, never retried")
}

func TestExecuteStrike_AmbiguousSubmitNeverRequeued(t *testing.T) {
	h := newHarness(t, "0", "0", func(o *Options) { o.Retry = RetryPolicy{MaxAttempts: 3} })
	h.gw.Decide = func(req gateway.TransferRequest) stub.Outcome {
		if req.Legs[0].From == "investor-a" {
			return stub.OutcomeUnacknowledged
		}
		return stub.OutcomeConfirm
	}
	h.gw.SubmitErr = func(req gateway.TransferRequest) error {
		if req.Legs[0].From == "investor-b" {
			return fmt.Errorf("%w: i/o timeout", gateway.ErrSubmitOutcomeUnknown)
		}
		return nil
	}
	ctx := context.Background()

	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "100")
	b := h.enqueue(t, "investor-b", domain.OrderKindSubscribe, "40")

	r, err := h.orch.ExecuteStrike(ctx, dec("1"))
	require.NoError(t, err)
	require.Len(t, r.Receipts, 1, "committed transfer found by key")
	require.Len(t, r.Failures, 1)
	assert.Equal(t, b.OrderID, r.Failures[0].OrderID)
	assert.True(t, r.Failures[0].TimedOut)
	assert.Empty(t, r.Requeued)
	assert.Zero(t, h.queue.Len())

	open, err := h.unresolved.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.OrderID, open[0].OrderID)
	assert.Len(t, h.gw.Transfers(), 1)
	assert.True(t, dec("100").Equal(h.ledger.Snapshot().TotalAUM))
}

func TestExecuteStrike_InvalidNAV(t *testing.T) {
	h := newHarness(t, "0", "0")
	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "10")

	for _, nav := range []string{"0", "-1"} {
		_, err := h.orch.ExecuteStrike(context.Background(), dec(nav))
		assert.ErrorIs(t, err, domain.ErrValidation, nav)
	}
	assert.Equal(t, 1, h.queue.Len())
	assert.True(t, dec("1").Equal(h.ledger.Snapshot().CurrentNAV))
	assert.Empty(t, h.gw.MetadataHistory())
}

func TestExecuteStrike_NAVBeyondLedgerScale(t *testing.T) {
	h := newHarness(t, "0", "0")
	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "10")

	r, err := h.orch.ExecuteStrike(context.Background(), dec("1.23456789"))
	require.NoError(t, err)
	require.Len(t, r.Receipts, 1)
	assert.True(t, dec("1.23456789").Equal(r.NAV))
	// 10 / 1.23456789 = 8.1000000737..., truncated at six places
	assert.True(t, dec("8.1").Equal(r.Receipts[0].ShareAmount), r.Receipts[0].ShareAmount.String())
	assert.True(t, dec("1.23456789").Equal(h.ledger.Snapshot().CurrentNAV))
}

func TestExecuteStrike_PublishNAVFailureAborts(t *testing.T) {
	h := newHarness(t, "0", "0")
	h.gw.PublishErr = func(key string) error {
		if key == domain.MetadataKeyNAV {
			return errors.New("ledger unavailable")
		}
		return nil
	}
	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "10")

	_, err := h.orch.ExecuteStrike(context.Background(), dec("2"))
	require.Error(t, err)

	assert.Equal(t, 1, h.queue.Len())
	pending := h.queue.Pending()
	assert.Equal(t, domain.OrderStatusPending, pending[0].Status)
	st := h.ledger.Snapshot()
	assert.True(t, dec("1").Equal(st.CurrentNAV))
	assert.Nil(t, st.LastStrikeTime)
	assert.Zero(t, h.gw.Submits())
	assert.Equal(t, domain.StrikePhaseScheduled, h.orch.Phase())
}

func TestExecuteStrike_PostStrikeMetadataFailureLogged(t *testing.T) {
	h := newHarness(t, "0", "0")
	h.gw.PublishErr = func(key string) error {
		if key == domain.MetadataKeyTotalAUM {
			return errors.New("write failed")
		}
		return nil
	}
	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "10")

	r, err := h.orch.ExecuteStrike(context.Background(), dec("1"))
	require.NoError(t, err)
	assert.Len(t, r.Receipts, 1)
	assert.True(t, dec("10").Equal(h.ledger.Snapshot().TotalAUM))
}

func TestExecuteStrike_AUMClamped(t *testing.T) {
	h := newHarness(t, "10", "100")
	h.enqueue(t, "investor-a", domain.OrderKindRedeem, "20")

	r, err := h.orch.ExecuteStrike(context.Background(), dec("1"))
	require.NoError(t, err)
	assert.True(t, r.AUMClamped)
	st := h.ledger.Snapshot()
	assert.True(t, st.TotalAUM.IsZero())
	assert.True(t, dec("80").Equal(st.TotalSharesOutstanding))
}

// gatedSettler blocks every settlement until release is closed.
type gatedSettler struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	q       *queue.Queue
}

func (g *gatedSettler) Settle(ctx context.Context, strikeID string, o domain.StrikeOrder, nav decimal.Decimal) (domain.SettlementReceipt, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := g.q.MarkExecuted(ctx, o.OrderID); err != nil {
		return domain.SettlementReceipt{}, err
	}
	return domain.SettlementReceipt{StrikeID: strikeID, OrderID: o.OrderID, Kind: o.Kind, ExecutionNAV: nav,
		ValueAmount: o.Amount, ShareAmount: o.Amount}, nil
}

func (g *gatedSettler) Reconcile(context.Context, domain.UnresolvedSettlement) (settlement.Resolution, error) {
	return settlement.Resolution{}, nil
}

func TestExecuteStrike_InProgress(t *testing.T) {
	gate := &gatedSettler{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, "0", "0", func(o *Options) { o.Settler = gate })
	gate.q = h.queue
	h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "10")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.ExecuteStrike(ctx, dec("1"))
		done <- err
	}()
	<-gate.entered

	assert.Equal(t, domain.StrikePhaseSettling, h.orch.Phase())

	_, err := h.orch.ExecuteStrike(ctx, dec("1.1"))
	assert.ErrorIs(t, err, domain.ErrStrikeInProgress)
	_, err = h.orch.Reconcile(ctx)
	assert.ErrorIs(t, err, domain.ErrStrikeInProgress)
	assert.ErrorIs(t, h.orch.Cancel(ctx, 1), domain.ErrStrikeInProgress)

	// enqueue stays open; the order waits for the next strike
	late := h.enqueue(t, "investor-b", domain.OrderKindSubscribe, "5")

	close(gate.release)
	require.NoError(t, <-done)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, late.OrderID, pending[0].OrderID)
}

func TestExecuteStrike_BatchOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.OrderKind
	rec := &recordingSettler{fn: func(o domain.StrikeOrder) {
		mu.Lock()
		seen = append(seen, o.Kind)
		mu.Unlock()
	}}
	h := newHarness(t, "100", "100", func(o *Options) {
		o.Settler = rec
		o.BatchOrder = RedemptionsFirst
		o.Workers = 1
	})
	h.enqueue(t, "a", domain.OrderKindSubscribe, "1")
	h.enqueue(t, "b", domain.OrderKindRedeem, "1")
	h.enqueue(t, "c", domain.OrderKindSubscribe, "1")

	_, err := h.orch.ExecuteStrike(context.Background(), dec("1"))
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderKind{domain.OrderKindRedeem, domain.OrderKindSubscribe, domain.OrderKindSubscribe}, seen)
}

type recordingSettler struct {
	fn func(domain.StrikeOrder)
}

func (r *recordingSettler) Settle(_ context.Context, strikeID string, o domain.StrikeOrder, nav decimal.Decimal) (domain.SettlementReceipt, error) {
	r.fn(o)
	return domain.SettlementReceipt{StrikeID: strikeID, OrderID: o.OrderID, Kind: o.Kind, ExecutionNAV: nav,
		ValueAmount: o.Amount, ShareAmount: o.Amount}, nil
}

func (r *recordingSettler) Reconcile(context.Context, domain.UnresolvedSettlement) (settlement.Resolution, error) {
	return settlement.Resolution{}, nil
}

func TestCancel(t *testing.T) {
	h := newHarness(t, "0", "0")
	o := h.enqueue(t, "investor-a", domain.OrderKindSubscribe, "10")

	require.NoError(t, h.orch.Cancel(context.Background(), o.OrderID))
	assert.ErrorIs(t, h.orch.Cancel(context.Background(), o.OrderID), domain.ErrOrderNotFound)

	r, err := h.orch.ExecuteStrike(context.Background(), dec("1"))
	require.NoError(t, err)
	assert.Empty(t, r.Receipts)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

// Fund deltas equal the sum over executed orders only, exactly, and no
// snapshot order is left pending.
func TestExecuteStrike_AccountingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(rt, "1000000", "1000000")
		before := h.ledger.Snapshot()

		n := rapid.IntRange(0, 20).Draw(rt, "orders")
		failing := map[string]bool{}
		for i := 0; i < n; i++ {
			investor := fmt.Sprintf("inv-%d", i)
			kind := domain.OrderKindSubscribe
			if rapid.Bool().Draw(rt, "redeem") {
				kind = domain.OrderKindRedeem
			}
			units := rapid.Int64Range(1_000_000, 10_000_000_000).Draw(rt, "units")
			amount := decimal.New(units, -domain.LedgerScale)
			if rapid.IntRange(0, 3).Draw(rt, "fail") == 0 {
				failing[investor] = true
			}
			h.enqueue(rt, investor, kind, amount.String())
		}
		h.gw.SubmitErr = func(req gateway.TransferRequest) error {
			for _, l := range req.Legs {
				if failing[l.From] || failing[l.To] {
					return errors.New("injected")
				}
			}
			return nil
		}

		navUnits := rapid.Int64Range(1, 5_000_000).Draw(rt, "nav")
		nav := decimal.New(navUnits, -domain.LedgerScale)

		r, err := h.orch.ExecuteStrike(context.Background(), nav)
		if err != nil {
			rt.Fatalf("strike: %v", err)
		}
		if len(r.Receipts)+len(r.Failures) != n {
			rt.Fatalf("%d receipts + %d failures != %d orders", len(r.Receipts), len(r.Failures), n)
		}
		if h.queue.Len() != 0 {
			rt.Fatalf("%d orders left after strike", h.queue.Len())
		}

		wantAUM := before.TotalAUM.Add(r.TotalValueSubscribed).Sub(r.TotalValuePaid)
		wantShares := before.TotalSharesOutstanding.Add(r.TotalSharesMinted).Sub(r.TotalSharesRedeemed)
		if wantAUM.IsNegative() {
			wantAUM = decimal.Zero
		}
		after := h.ledger.Snapshot()
		if !after.TotalAUM.Equal(wantAUM) {
			rt.Fatalf("AUM %s, want %s", after.TotalAUM, wantAUM)
		}
		if !after.TotalSharesOutstanding.Equal(wantShares) {
			rt.Fatalf("shares %s, want %s", after.TotalSharesOutstanding, wantShares)
		}
		for _, f := range r.Failures {
			if !strings.HasPrefix(f.Investor, "inv-") || !failing[f.Investor] {
				rt.Fatalf("order %d failed without injection: %s", f.OrderID, f.Reason)
			}
		}
	})
}
