// Package strike runs NAV strikes: it fixes one price, settles every pending
// order against it and reports the outcome.
package strike

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/events"
	"nav-strike-engine/internal/fund"
	"nav-strike-engine/internal/gateway"
	"nav-strike-engine/internal/observability"
	"nav-strike-engine/internal/queue"
	"nav-strike-engine/internal/settlement"
	"nav-strike-engine/internal/storage"
)

// DefaultWorkers is the settlement fan-out when Options.Workers is unset.
const DefaultWorkers = 4

// BatchOrder decides which order group settles first.
type BatchOrder int

const (
	SubscriptionsFirst BatchOrder = iota
	RedemptionsFirst
)

// ParseBatchOrder accepts "subscriptions_first" and "redemptions_first".
// Empty selects SubscriptionsFirst.
func ParseBatchOrder(s string) (BatchOrder, error) {
	switch s {
	case "", "subscriptions_first":
		return SubscriptionsFirst, nil
	case "redemptions_first":
		return RedemptionsFirst, nil
	}
	return SubscriptionsFirst, domain.NewConfigurationError("unknown batch order %q", s)
}

func (b BatchOrder) String() string {
	if b == RedemptionsFirst {
		return "redemptions_first"
	}
	return "subscriptions_first"
}

// RetryPolicy decides what happens to orders that fail with a definite
// ledger error. MaxAttempts <= 1 drops them.
type RetryPolicy struct {
	MaxAttempts int
}

// Settler settles one order. Implemented by *settlement.Processor.
type Settler interface {
	Settle(ctx context.Context, strikeID string, order domain.StrikeOrder, nav decimal.Decimal) (domain.SettlementReceipt, error)
	Reconcile(ctx context.Context, u domain.UnresolvedSettlement) (settlement.Resolution, error)
}

// Options for creating an Orchestrator.
type Options struct {
	Ledger    *fund.Ledger
	Queue     *queue.Queue
	Settler   Settler
	Publisher gateway.MetadataPublisher

	// Optional persistence; nil stores are skipped.
	Reports    storage.StrikeReportStore
	FundStates storage.FundStateStore
	Unresolved storage.UnresolvedStore
	Analytics  storage.ReceiptAnalyticsStore

	Events events.Publisher

	Workers    int
	BatchOrder BatchOrder
	Retry      RetryPolicy

	NewStrikeID func() string
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Orchestrator executes strikes for one fund. At most one strike or
// reconciliation runs at a time.
type Orchestrator struct {
	ledger    *fund.Ledger
	queue     *queue.Queue
	settler   Settler
	publisher gateway.MetadataPublisher

	reports    storage.StrikeReportStore
	fundStates storage.FundStateStore
	unresolved storage.UnresolvedStore
	analytics  storage.ReceiptAnalyticsStore
	events     events.Publisher

	workers    int
	batchOrder BatchOrder
	retry      RetryPolicy

	newStrikeID func() string
	clock       func() time.Time
	logger      *zap.Logger

	running sync.Mutex
	phase   atomic.Value // domain.StrikePhase

	lastMu sync.RWMutex
	last   *domain.StrikeReport
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Ledger == nil || opts.Queue == nil || opts.Settler == nil || opts.Publisher == nil {
		return nil, domain.NewConfigurationError("orchestrator needs ledger, queue, settler and publisher")
	}

	o := &Orchestrator{
		ledger:      opts.Ledger,
		queue:       opts.Queue,
		settler:     opts.Settler,
		publisher:   opts.Publisher,
		reports:     opts.Reports,
		fundStates:  opts.FundStates,
		unresolved:  opts.Unresolved,
		analytics:   opts.Analytics,
		events:      opts.Events,
		workers:     opts.Workers,
		batchOrder:  opts.BatchOrder,
		retry:       opts.Retry,
		newStrikeID: opts.NewStrikeID,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if o.workers <= 0 {
		o.workers = DefaultWorkers
	}
	if o.events == nil {
		o.events = events.Noop{}
	}
	if o.newStrikeID == nil {
		o.newStrikeID = func() string { return uuid.NewString() }
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("strike")
	o.phase.Store(domain.StrikePhaseScheduled)
	return o, nil
}

// Phase reports the state of the current or most recent strike.
func (o *Orchestrator) Phase() domain.StrikePhase {
	return o.phase.Load().(domain.StrikePhase)
}

// LastReport returns the most recent report, nil before the first strike.
func (o *Orchestrator) LastReport() *domain.StrikeReport {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	return o.last
}

// outcome is one settled or failed order, merged by the orchestrator.
type outcome struct {
	order   domain.StrikeOrder
	receipt domain.SettlementReceipt
	err     error
}

// ExecuteStrike fixes nav as the strike price and settles every pending
// order against it. A second call while one runs fails with
// ErrStrikeInProgress. Per-order failures never abort the strike; they are
// reported in StrikeReport.Failures.
func (o *Orchestrator) ExecuteStrike(ctx context.Context, nav decimal.Decimal) (*domain.StrikeReport, error) {
	if !o.running.TryLock() {
		return nil, domain.ErrStrikeInProgress
	}
	defer o.running.Unlock()

	start := o.clock()
	report, err := o.executeStrike(ctx, nav, start)
	if err != nil {
		observability.RecordStrike("aborted", o.clock().Sub(start).Seconds())
		return nil, err
	}
	observability.RecordStrike("completed", o.clock().Sub(start).Seconds())
	observability.MarkStrikeSuccess(report.FinishedAt.Unix())
	return report, nil
}

func (o *Orchestrator) executeStrike(ctx context.Context, nav decimal.Decimal, strikeTime time.Time) (*domain.StrikeReport, error) {
	if !nav.IsPositive() {
		return nil, domain.NewValidationError("NAV must be positive, got %s", nav)
	}

	fundID := o.ledger.FundID()
	strikeID := o.newStrikeID()
	log := o.logger.With(zap.String("strike_id", strikeID), zap.String("nav", nav.String()))

	// NAVFixing: nothing moves unless the price is published.
	prev := o.Phase()
	o.phase.Store(domain.StrikePhaseNAVFixing)
	if _, err := o.publisher.PublishMetadataField(ctx, fundID, domain.MetadataKeyNAV, nav.String()); err != nil {
		o.phase.Store(prev)
		log.Error("publish NAV failed, strike aborted", zap.Error(err))
		return nil, fmt.Errorf("publish NAV: %w", err)
	}
	if err := o.ledger.FixNAV(nav, strikeTime); err != nil {
		o.phase.Store(prev)
		return nil, err
	}
	log.Info("NAV fixed")

	// Settling: both snapshots are taken before any order is processed.
	o.phase.Store(domain.StrikePhaseSettling)
	subs := o.queue.SnapshotPending(domain.OrderKindSubscribe)
	reds := o.queue.SnapshotPending(domain.OrderKindRedeem)
	groups := [][]domain.StrikeOrder{subs, reds}
	if o.batchOrder == RedemptionsFirst {
		groups = [][]domain.StrikeOrder{reds, subs}
	}

	var outcomes []outcome
	for _, group := range groups {
		outcomes = append(outcomes, o.settleGroup(ctx, strikeID, group, nav)...)
	}

	// Reporting
	o.phase.Store(domain.StrikePhaseReporting)
	report := o.buildReport(strikeID, strikeTime, nav, outcomes)
	report.Requeued = o.applyRetry(ctx, outcomes)
	report.AUMClamped = o.ledger.ClampAUM()
	if report.AUMClamped {
		observability.RecordAUMClamp()
	}

	purged := o.queue.PurgeTerminal()
	observability.SetPending(o.queue.Len())

	state := o.ledger.Snapshot()
	o.publishPostStrike(ctx, state, log)
	report.FinishedAt = o.clock()
	o.persist(ctx, report, state, log)
	o.emit(ctx, fundID, report)
	observability.UpdateFund(state.CurrentNAV.InexactFloat64(), state.TotalAUM.InexactFloat64(), state.TotalSharesOutstanding.InexactFloat64())

	o.lastMu.Lock()
	o.last = report
	o.lastMu.Unlock()
	o.phase.Store(domain.StrikePhaseComplete)

	log.Info("strike complete",
		zap.Int("subscriptions", report.SubscriptionsProcessed),
		zap.Int("redemptions", report.RedemptionsProcessed),
		zap.Int("failed", len(report.Failures)),
		zap.Int("requeued", len(report.Requeued)),
		zap.Int("purged", purged),
		zap.String("total_aum", state.TotalAUM.String()),
		zap.String("shares_outstanding", state.TotalSharesOutstanding.String()))

	return report, nil
}

// settleGroup settles orders on a bounded worker pool and merges results
// through a channel. Every order yields exactly one outcome.
func (o *Orchestrator) settleGroup(ctx context.Context, strikeID string, orders []domain.StrikeOrder, nav decimal.Decimal) []outcome {
	if len(orders) == 0 {
		return nil
	}

	results := make(chan outcome, len(orders))
	var g errgroup.Group
	g.SetLimit(o.workers)

	for _, ord := range orders {
		ord := ord
		g.Go(func() error {
			receipt, err := o.settler.Settle(ctx, strikeID, ord, nav)
			results <- outcome{order: ord, receipt: receipt, err: err}
			return nil
		})
	}
	_ = g.Wait() // workers report through results, never through the group
	close(results)

	out := make([]outcome, 0, len(orders))
	for r := range results {
		out = append(out, r)
	}
	return out
}

func (o *Orchestrator) buildReport(strikeID string, strikeTime time.Time, nav decimal.Decimal, outcomes []outcome) *domain.StrikeReport {
	r := &domain.StrikeReport{
		StrikeID:             strikeID,
		StrikeTime:           strikeTime,
		NAV:                  nav,
		TotalValueSubscribed: decimal.Zero,
		TotalSharesMinted:    decimal.Zero,
		TotalSharesRedeemed:  decimal.Zero,
		TotalValuePaid:       decimal.Zero,
		Receipts:             []domain.SettlementReceipt{},
		Failures:             []domain.OrderFailure{},
		Requeued:             []int64{},
		StartedAt:            strikeTime,
	}

	for _, oc := range outcomes {
		kind := oc.order.Kind.String()
		if oc.err != nil {
			r.Failures = append(r.Failures, domain.OrderFailure{
				OrderID:  oc.order.OrderID,
				Investor: oc.order.Investor,
				Kind:     oc.order.Kind,
				Amount:   oc.order.Amount,
				Reason:   oc.err.Error(),
				TimedOut: errors.Is(oc.err, domain.ErrLedgerConfirmationTimeout),
			})
			observability.RecordOrderOutcome(kind, "failed")
			continue
		}

		rc := oc.receipt
		r.Receipts = append(r.Receipts, rc)
		if rc.Kind == domain.OrderKindSubscribe {
			r.SubscriptionsProcessed++
			r.TotalValueSubscribed = r.TotalValueSubscribed.Add(rc.ValueAmount)
			r.TotalSharesMinted = r.TotalSharesMinted.Add(rc.ShareAmount)
		} else {
			r.RedemptionsProcessed++
			r.TotalSharesRedeemed = r.TotalSharesRedeemed.Add(rc.ShareAmount)
			r.TotalValuePaid = r.TotalValuePaid.Add(rc.ValueAmount)
		}
		observability.RecordOrderOutcome(kind, "executed")
	}

	sort.Slice(r.Receipts, func(i, j int) bool { return r.Receipts[i].OrderID < r.Receipts[j].OrderID })
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].OrderID < r.Failures[j].OrderID })
	return r
}

// applyRetry re-enqueues orders that failed with a definite ledger error
// while attempts remain. Timeouts are never retried: the first transfer may
// still land.
func (o *Orchestrator) applyRetry(ctx context.Context, outcomes []outcome) []int64 {
	requeued := []int64{}
	if o.retry.MaxAttempts <= 1 {
		return requeued
	}

	failed := make([]outcome, 0)
	for _, oc := range outcomes {
		if oc.err != nil && domain.IsRetryable(oc.err) && oc.order.Attempt < o.retry.MaxAttempts {
			failed = append(failed, oc)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].order.OrderID < failed[j].order.OrderID })

	for _, oc := range failed {
		current, err := o.queue.Get(oc.order.OrderID)
		if err != nil {
			o.logger.Warn("retry: order vanished", zap.Int64("order_id", oc.order.OrderID), zap.Error(err))
			continue
		}
		fresh, err := o.queue.Requeue(ctx, current)
		if err != nil {
			o.logger.Error("retry: requeue failed", zap.Int64("order_id", oc.order.OrderID), zap.Error(err))
			continue
		}
		requeued = append(requeued, fresh.OrderID)
		o.logger.Info("order requeued",
			zap.Int64("order_id", oc.order.OrderID),
			zap.Int64("new_order_id", fresh.OrderID),
			zap.Int("attempt", fresh.Attempt))
	}
	observability.RecordRequeued(len(requeued))
	return requeued
}

// publishPostStrike writes AUM and strike time. Settlement already
// happened, so failures are only logged.
func (o *Orchestrator) publishPostStrike(ctx context.Context, state domain.FundState, log *zap.Logger) {
	fields := []struct{ key, value string }{
		{domain.MetadataKeyTotalAUM, state.TotalAUM.String()},
	}
	if state.LastStrikeTime != nil {
		fields = append(fields, struct{ key, value string }{
			domain.MetadataKeyLastStrikeTime, state.LastStrikeTime.UTC().Format(time.RFC3339),
		})
	}
	for _, f := range fields {
		if _, err := o.publisher.PublishMetadataField(ctx, state.FundID, f.key, f.value); err != nil {
			observability.RecordMetadataFailure(f.key)
			log.Warn("publish fund metadata", zap.String("key", f.key), zap.Error(err))
		}
	}
}

// persist stores the report, fund state and analytics rows. Failures are
// logged; fund state in memory is never rolled back.
func (o *Orchestrator) persist(ctx context.Context, report *domain.StrikeReport, state domain.FundState, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	if o.reports != nil {
		if err := o.reports.Insert(ctx, report); err != nil {
			log.Error("persist strike report", zap.Error(err))
		}
	}
	o.saveFundState(ctx, state, log)
	if o.analytics != nil && len(report.Receipts) > 0 {
		if err := o.analytics.InsertBulk(ctx, report.Receipts); err != nil {
			log.Error("persist receipt analytics", zap.Error(err))
		}
	}
	o.refreshUnresolvedGauge(ctx)
}

func (o *Orchestrator) saveFundState(ctx context.Context, state domain.FundState, log *zap.Logger) {
	if o.fundStates == nil {
		return
	}
	if err := o.fundStates.Save(ctx, &state); err != nil {
		log.Error("persist fund state", zap.Error(err))
	}
}

func (o *Orchestrator) refreshUnresolvedGauge(ctx context.Context) {
	if o.unresolved == nil {
		return
	}
	open, err := o.unresolved.ListOpen(ctx)
	if err == nil {
		observability.SetUnresolved(len(open))
	}
}

type strikeCompleted struct {
	StrikeID               string          `json:"strike_id"`
	FundID                 string          `json:"fund_id"`
	StrikeTime             time.Time       `json:"strike_time"`
	NAV                    decimal.Decimal `json:"nav"`
	SubscriptionsProcessed int             `json:"subscriptions_processed"`
	TotalValueSubscribed   decimal.Decimal `json:"total_value_subscribed"`
	TotalSharesMinted      decimal.Decimal `json:"total_shares_minted"`
	RedemptionsProcessed   int             `json:"redemptions_processed"`
	TotalSharesRedeemed    decimal.Decimal `json:"total_shares_redeemed"`
	TotalValuePaid         decimal.Decimal `json:"total_value_paid"`
	Failed                 int             `json:"failed"`
}

type orderExecuted struct {
	StrikeID     string          `json:"strike_id"`
	OrderID      int64           `json:"order_id"`
	Investor     string          `json:"investor"`
	Kind         string          `json:"kind"`
	ExecutionNAV decimal.Decimal `json:"execution_nav"`
	ValueAmount  decimal.Decimal `json:"value_amount"`
	ShareAmount  decimal.Decimal `json:"share_amount"`
	Reference    string          `json:"reference"`
	SettledAt    time.Time       `json:"settled_at"`
}

type orderFailed struct {
	StrikeID string `json:"strike_id"`
	OrderID  int64  `json:"order_id"`
	Investor string `json:"investor"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	TimedOut bool   `json:"timed_out"`
}

func (o *Orchestrator) emit(ctx context.Context, fundID string, r *domain.StrikeReport) {
	at := r.FinishedAt
	evs := []events.Event{{
		Type:       events.TypeStrikeCompleted,
		Key:        fundID,
		OccurredAt: at,
		Payload: strikeCompleted{
			StrikeID:               r.StrikeID,
			FundID:                 fundID,
			StrikeTime:             r.StrikeTime,
			NAV:                    r.NAV,
			SubscriptionsProcessed: r.SubscriptionsProcessed,
			TotalValueSubscribed:   r.TotalValueSubscribed,
			TotalSharesMinted:      r.TotalSharesMinted,
			RedemptionsProcessed:   r.RedemptionsProcessed,
			TotalSharesRedeemed:    r.TotalSharesRedeemed,
			TotalValuePaid:         r.TotalValuePaid,
			Failed:                 len(r.Failures),
		},
	}}
	for _, rc := range r.Receipts {
		evs = append(evs, events.Event{
			Type:       events.TypeOrderExecuted,
			Key:        fundID,
			OccurredAt: at,
			Payload: orderExecuted{
				StrikeID:     r.StrikeID,
				OrderID:      rc.OrderID,
				Investor:     rc.Investor,
				Kind:         rc.Kind.String(),
				ExecutionNAV: rc.ExecutionNAV,
				ValueAmount:  rc.ValueAmount,
				ShareAmount:  rc.ShareAmount,
				Reference:    rc.Reference,
				SettledAt:    rc.SettledAt,
			},
		})
	}
	for _, f := range r.Failures {
		evs = append(evs, events.Event{
			Type:       events.TypeOrderFailed,
			Key:        fundID,
			OccurredAt: at,
			Payload: orderFailed{
				StrikeID: r.StrikeID,
				OrderID:  f.OrderID,
				Investor: f.Investor,
				Kind:     f.Kind.String(),
				Reason:   f.Reason,
				TimedOut: f.TimedOut,
			},
		})
	}
	for _, id := range r.Requeued {
		evs = append(evs, events.Event{
			Type:       events.TypeOrderRequeued,
			Key:        fundID,
			OccurredAt: at,
			Payload:    map[string]interface{}{"strike_id": r.StrikeID, "order_id": id},
		})
	}

	if err := o.events.Publish(context.WithoutCancel(ctx), evs...); err != nil {
		o.logger.Warn("publish strike events", zap.String("strike_id", r.StrikeID), zap.Error(err))
	}
}
