package strike

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/events"
	"nav-strike-engine/internal/gateway"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Checked   int
	Confirmed int
	Failed    int
	StillOpen int
	Receipts  []domain.SettlementReceipt // late receipts booked in this pass
}

// Reconcile resolves timed-out settlements whose outcome the ledger now
// knows. Late confirmations are booked into fund state; their orders stay
// FAILED. Runs exclusively with strikes.
func (o *Orchestrator) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	if o.unresolved == nil {
		return &ReconcileResult{}, nil
	}
	if !o.running.TryLock() {
		return nil, domain.ErrStrikeInProgress
	}
	defer o.running.Unlock()

	open, err := o.unresolved.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved settlements: %w", err)
	}

	res := &ReconcileResult{Receipts: []domain.SettlementReceipt{}}
	for _, u := range open {
		res.Checked++
		r, err := o.settler.Reconcile(ctx, *u)
		if err != nil {
			o.logger.Warn("reconcile settlement",
				zap.Int64("order_id", u.OrderID),
				zap.String("key", u.IdempotencyKey),
				zap.Error(err))
			res.StillOpen++
			continue
		}
		switch {
		case !r.Resolved:
			res.StillOpen++
		case r.Status == gateway.StatusConfirmed && r.Receipt != nil:
			res.Confirmed++
			res.Receipts = append(res.Receipts, *r.Receipt)
		default:
			res.Failed++
		}
	}

	if len(res.Receipts) > 0 {
		o.afterLateReceipts(ctx, res.Receipts)
	}
	o.refreshUnresolvedGauge(ctx)

	o.logger.Info("reconciliation complete",
		zap.Int("checked", res.Checked),
		zap.Int("confirmed", res.Confirmed),
		zap.Int("failed", res.Failed),
		zap.Int("still_open", res.StillOpen))
	return res, nil
}

type lateSettlement struct {
	StrikeID  string `json:"strike_id"`
	OrderID   int64  `json:"order_id"`
	Investor  string `json:"investor"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Value     string `json:"value"`
	Shares    string `json:"shares"`
}

// afterLateReceipts clamps, publishes and persists after late bookings,
// the same way a strike finishes.
func (o *Orchestrator) afterLateReceipts(ctx context.Context, receipts []domain.SettlementReceipt) {
	log := o.logger.With(zap.Int("late_receipts", len(receipts)))

	o.ledger.ClampAUM()
	state := o.ledger.Snapshot()

	if _, err := o.publisher.PublishMetadataField(ctx, state.FundID, domain.MetadataKeyTotalAUM, state.TotalAUM.String()); err != nil {
		log.Warn("publish fund metadata", zap.String("key", domain.MetadataKeyTotalAUM), zap.Error(err))
	}

	pctx := context.WithoutCancel(ctx)
	o.saveFundState(pctx, state, log)
	if o.analytics != nil {
		if err := o.analytics.InsertBulk(pctx, receipts); err != nil {
			log.Error("persist late receipts", zap.Error(err))
		}
	}

	evs := make([]events.Event, 0, len(receipts))
	for _, r := range receipts {
		evs = append(evs, events.Event{
			Type:       events.TypeLateSettlement,
			Key:        state.FundID,
			OccurredAt: r.SettledAt,
			Payload: lateSettlement{
				StrikeID:  r.StrikeID,
				OrderID:   r.OrderID,
				Investor:  r.Investor,
				Kind:      r.Kind.String(),
				Reference: r.Reference,
				Value:     r.ValueAmount.String(),
				Shares:    r.ShareAmount.String(),
			},
		})
	}
	if err := o.events.Publish(pctx, evs...); err != nil {
		log.Warn("publish late settlement events", zap.Error(err))
	}
}

// Cancel withdraws a pending order. Refused while a strike is running, since
// the running strike may already have selected it.
func (o *Orchestrator) Cancel(ctx context.Context, orderID int64) error {
	if !o.running.TryLock() {
		return domain.ErrStrikeInProgress
	}
	defer o.running.Unlock()

	return o.queue.Cancel(ctx, orderID)
}
