// Package settlement executes a single order as an atomic two-leg transfer
// and books it into fund state only after the ledger confirms it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/fund"
	"nav-strike-engine/internal/gateway"
	"nav-strike-engine/internal/idhash"
	"nav-strike-engine/internal/observability"
	"nav-strike-engine/internal/storage"
)

// DefaultConfirmationTimeout bounds AwaitConfirmation per order.
const DefaultConfirmationTimeout = 60 * time.Second

// OrderMarker records terminal order status.
type OrderMarker interface {
	MarkExecuted(ctx context.Context, orderID int64) error
	MarkFailed(ctx context.Context, orderID int64, reason string) error
}

// Accounts are the fund-side ledger accounts used in transfer legs.
type Accounts struct {
	// Settlement receives subscription value and pays redemption value.
	Settlement string
	// ShareIssuer mints shares it sends and burns shares it receives.
	ShareIssuer string
}

// Options for creating a Processor.
type Options struct {
	Gateway  gateway.Settler
	Ledger   *fund.Ledger
	Orders   OrderMarker
	Accounts Accounts

	// Unresolved records timed-out settlements. Optional.
	Unresolved storage.UnresolvedStore

	ConfirmationTimeout time.Duration
	Clock               func() time.Time
	Logger              *zap.Logger
}

// Processor settles one order at a time. It is safe for concurrent use;
// fund state is serialized by the Ledger.
type Processor struct {
	gw         gateway.Settler
	ledger     *fund.Ledger
	orders     OrderMarker
	accounts   Accounts
	unresolved storage.UnresolvedStore
	timeout    time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewProcessor checks the gateway's guarantees and creates a Processor.
// A ledger without atomic multi-leg transfers is a configuration error.
func NewProcessor(ctx context.Context, opts Options) (*Processor, error) {
	if opts.Gateway == nil || opts.Ledger == nil || opts.Orders == nil {
		return nil, domain.NewConfigurationError("settlement processor needs gateway, ledger and orders")
	}
	if opts.Accounts.Settlement == "" || opts.Accounts.ShareIssuer == "" {
		return nil, domain.NewConfigurationError("settlement and share issuer accounts are required")
	}

	caps, err := opts.Gateway.Capabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("query ledger capabilities: %w", err)
	}
	if !caps.AtomicMultiLeg {
		return nil, domain.NewConfigurationError("ledger does not commit multi-leg transfers atomically")
	}

	p := &Processor{
		gw:         opts.Gateway,
		ledger:     opts.Ledger,
		orders:     opts.Orders,
		accounts:   opts.Accounts,
		unresolved: opts.Unresolved,
		timeout:    opts.ConfirmationTimeout,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultConfirmationTimeout
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("settlement")
	return p, nil
}

// Settle dispatches on order kind.
func (p *Processor) Settle(ctx context.Context, strikeID string, order domain.StrikeOrder, nav decimal.Decimal) (domain.SettlementReceipt, error) {
	switch order.Kind {
	case domain.OrderKindSubscribe:
		return p.SettleSubscription(ctx, strikeID, order, nav)
	case domain.OrderKindRedeem:
		return p.SettleRedemption(ctx, strikeID, order, nav)
	}
	err := domain.NewValidationError("unknown order kind %q", order.Kind)
	p.fail(ctx, order, err)
	return domain.SettlementReceipt{}, err
}

// SettleSubscription takes order.Amount of value from the investor and mints
// Amount/nav shares to them in one transfer.
func (p *Processor) SettleSubscription(ctx context.Context, strikeID string, order domain.StrikeOrder, nav decimal.Decimal) (domain.SettlementReceipt, error) {
	shares := domain.SharesForValue(order.Amount, nav)
	plan := plan{
		value:  order.Amount,
		shares: shares,
		legs:   p.legs(domain.OrderKindSubscribe, order.Investor, order.Amount, shares),
	}
	return p.settle(ctx, strikeID, order, nav, plan)
}

// SettleRedemption burns order.Amount shares from the investor and pays
// Amount*nav of value to them in one transfer.
func (p *Processor) SettleRedemption(ctx context.Context, strikeID string, order domain.StrikeOrder, nav decimal.Decimal) (domain.SettlementReceipt, error) {
	value := domain.ValueForShares(order.Amount, nav)
	plan := plan{
		value:  value,
		shares: order.Amount,
		legs:   p.legs(domain.OrderKindRedeem, order.Investor, value, order.Amount),
	}
	return p.settle(ctx, strikeID, order, nav, plan)
}

// legs builds the two legs of a settlement. A subscription pays value in and
// mints shares out; a redemption burns shares and pays value out.
func (p *Processor) legs(kind domain.OrderKind, investor string, value, shares decimal.Decimal) []gateway.Leg {
	if kind == domain.OrderKindSubscribe {
		return []gateway.Leg{
			{From: investor, To: p.accounts.Settlement, Asset: gateway.AssetValue, Amount: value},
			{From: p.accounts.ShareIssuer, To: investor, Asset: gateway.AssetShare, Amount: shares},
		}
	}
	return []gateway.Leg{
		{From: investor, To: p.accounts.ShareIssuer, Asset: gateway.AssetShare, Amount: shares},
		{From: p.accounts.Settlement, To: investor, Asset: gateway.AssetValue, Amount: value},
	}
}

// plan is the economic content of one settlement. The amounts booked into
// fund state are the amounts on the legs.
type plan struct {
	value  decimal.Decimal
	shares decimal.Decimal
	legs   []gateway.Leg
}

func (p *Processor) settle(ctx context.Context, strikeID string, order domain.StrikeOrder, nav decimal.Decimal, pl plan) (domain.SettlementReceipt, error) {
	if order.Status != domain.OrderStatusPending {
		return domain.SettlementReceipt{}, fmt.Errorf("%w: order %d is %s", domain.ErrInvalidTransition, order.OrderID, order.Status)
	}
	if !nav.IsPositive() {
		return domain.SettlementReceipt{}, domain.NewValidationError("NAV must be positive, got %s", nav)
	}
	if !pl.value.IsPositive() || !pl.shares.IsPositive() {
		err := domain.NewValidationError("order %d amount %s rounds to zero at NAV %s", order.OrderID, order.Amount, nav)
		p.fail(ctx, order, err)
		return domain.SettlementReceipt{}, err
	}

	key := idhash.OrderSettlementKey(p.ledger.FundID(), order)
	log := p.logger.With(
		zap.String("strike_id", strikeID),
		zap.Int64("order_id", order.OrderID),
		zap.String("kind", order.Kind.String()),
		zap.String("key", key))

	start := p.clock()

	// Never submit twice: a previous attempt may have landed with its
	// confirmation lost.
	existing, err := p.gw.FindTransfer(ctx, key)
	if err != nil {
		err = fmt.Errorf("%w: look up prior transfer: %v", domain.ErrLedgerSubmission, err)
		p.fail(ctx, order, err)
		return domain.SettlementReceipt{}, err
	}

	if existing != nil && !gateway.SameLegs(existing.Legs, pl.legs) {
		err = keyConflict(key)
		log.Error("idempotency key bound to another transfer", zap.Error(err))
		p.fail(ctx, order, err)
		return domain.SettlementReceipt{}, err
	}

	var conf gateway.Confirmation
	switch {
	case existing != nil && existing.Status.IsFinal():
		log.Info("transfer already on ledger", zap.String("status", string(existing.Status)))
		conf = *existing
	case existing != nil:
		log.Info("transfer already submitted, awaiting", zap.String("handle", string(existing.Handle)))
		conf, err = p.await(ctx, existing.Handle)
	default:
		var handle gateway.PendingHandle
		handle, err = p.gw.SubmitAtomicTransfer(ctx, gateway.TransferRequest{IdempotencyKey: key, Legs: pl.legs})
		switch {
		case err == nil:
			conf, err = p.await(ctx, handle)
		case errors.Is(err, gateway.ErrSubmitOutcomeUnknown):
			log.Warn("submit outcome unknown, asking ledger", zap.Error(err))
			conf, err = p.lookupAfterSubmit(ctx, key, pl.legs, err)
			if errors.Is(err, errKeyConflict) {
				log.Error("idempotency key bound to another transfer", zap.Error(err))
				p.fail(ctx, order, err)
				return domain.SettlementReceipt{}, err
			}
		default:
			if !errors.Is(err, domain.ErrLedgerSubmission) {
				err = fmt.Errorf("%w: %v", domain.ErrLedgerSubmission, err)
			}
			log.Warn("submit refused", zap.Error(err))
			p.fail(ctx, order, err)
			return domain.SettlementReceipt{}, err
		}
	}

	if err != nil || conf.Status == gateway.StatusTimeout || !conf.Status.IsFinal() {
		// Outcome unknown: fail the order and leave a record for Reconcile.
		p.recordUnresolved(ctx, strikeID, order, nav, pl, key, conf.Handle)
		terr := fmt.Errorf("%w: order %d after %s", domain.ErrLedgerConfirmationTimeout, order.OrderID, p.timeout)
		if err != nil {
			terr = fmt.Errorf("%w: order %d: %v", domain.ErrLedgerConfirmationTimeout, order.OrderID, err)
		}
		log.Warn("confirmation not observed", zap.Error(terr))
		p.fail(ctx, order, terr)
		return domain.SettlementReceipt{}, terr
	}

	if conf.Status == gateway.StatusFailed {
		rerr := fmt.Errorf("%w: %s", domain.ErrLedgerRejected, conf.Reason)
		log.Warn("transfer rejected", zap.String("reason", conf.Reason))
		p.fail(ctx, order, rerr)
		return domain.SettlementReceipt{}, rerr
	}

	// Confirmed: only now does fund state move.
	p.book(order.Kind, pl.value, pl.shares)
	if err := p.orders.MarkExecuted(context.WithoutCancel(ctx), order.OrderID); err != nil {
		log.Error("mark executed", zap.Error(err))
	}

	settledAt := p.clock()
	observability.RecordSettlementLatency(order.Kind.String(), settledAt.Sub(start).Seconds())
	log.Debug("settled", zap.String("reference", conf.Reference))

	return domain.SettlementReceipt{
		StrikeID:       strikeID,
		OrderID:        order.OrderID,
		Investor:       order.Investor,
		Kind:           order.Kind,
		Reference:      conf.Reference,
		IdempotencyKey: key,
		ExecutionNAV:   nav,
		ValueAmount:    pl.value,
		ShareAmount:    pl.shares,
		SettledAt:      settledAt,
	}, nil
}

var errKeyConflict = errors.New("idempotency key already used by a different transfer")

// keyConflict means the ledger holds another transfer under this order's key.
// The order's own transfer was never submitted, so the failure is definite.
func keyConflict(key string) error {
	return fmt.Errorf("%w: %w: %s", domain.ErrLedgerSubmission, errKeyConflict, key)
}

// lookupAfterSubmit resolves a submit whose response was lost by asking the
// ledger for the key. Without an answer the outcome stays unknown and the
// returned error carries the cause; the caller must not resubmit.
func (p *Processor) lookupAfterSubmit(ctx context.Context, key string, legs []gateway.Leg, cause error) (gateway.Confirmation, error) {
	found, err := p.gw.FindTransfer(ctx, key)
	if err != nil {
		return gateway.Confirmation{}, fmt.Errorf("%v; lookup: %v", cause, err)
	}
	if found == nil {
		return gateway.Confirmation{}, cause
	}
	if !gateway.SameLegs(found.Legs, legs) {
		return gateway.Confirmation{}, keyConflict(key)
	}
	if found.Status.IsFinal() {
		return *found, nil
	}
	return p.await(ctx, found.Handle)
}

func (p *Processor) await(ctx context.Context, handle gateway.PendingHandle) (gateway.Confirmation, error) {
	conf, err := p.gw.AwaitConfirmation(ctx, handle, p.timeout)
	if conf.Handle == "" {
		conf.Handle = handle
	}
	return conf, err
}

func (p *Processor) book(kind domain.OrderKind, value, shares decimal.Decimal) {
	if kind == domain.OrderKindSubscribe {
		p.ledger.ApplySubscription(value, shares)
		return
	}
	p.ledger.ApplyRedemption(value, shares)
}

// fail marks the order FAILED. The status write must survive a cancelled
// strike context so no order is left PENDING.
func (p *Processor) fail(ctx context.Context, order domain.StrikeOrder, cause error) {
	if err := p.orders.MarkFailed(context.WithoutCancel(ctx), order.OrderID, cause.Error()); err != nil {
		p.logger.Error("mark failed",
			zap.Int64("order_id", order.OrderID),
			zap.Error(err))
	}
}

func (p *Processor) recordUnresolved(ctx context.Context, strikeID string, order domain.StrikeOrder, nav decimal.Decimal, pl plan, key string, handle gateway.PendingHandle) {
	if p.unresolved == nil {
		return
	}
	u := domain.UnresolvedSettlement{
		IdempotencyKey: key,
		StrikeID:       strikeID,
		OrderID:        order.OrderID,
		Investor:       order.Investor,
		Kind:           order.Kind,
		ExecutionNAV:   nav,
		ValueAmount:    pl.value,
		ShareAmount:    pl.shares,
		Handle:         string(handle),
		CreatedAt:      p.clock(),
	}
	if err := p.unresolved.Insert(context.WithoutCancel(ctx), &u); err != nil {
		p.logger.Error("record unresolved settlement",
			zap.Int64("order_id", order.OrderID),
			zap.String("key", key),
			zap.Error(err))
	}
}

// Resolution is the outcome of reconciling one unresolved settlement.
type Resolution struct {
	// Resolved is false while the ledger still has no final answer.
	Resolved bool
	// Receipt is set when the transfer turned out to be confirmed.
	Receipt *domain.SettlementReceipt
	Status  gateway.ConfirmationStatus
}

// Reconcile asks the ledger for the final outcome of a timed-out settlement.
// A late confirmation is booked into fund state; the order itself stays FAILED.
func (p *Processor) Reconcile(ctx context.Context, u domain.UnresolvedSettlement) (Resolution, error) {
	if u.ResolvedAt != nil {
		return Resolution{Resolved: true, Status: gateway.ConfirmationStatus(u.Resolution)}, nil
	}

	conf, err := p.gw.FindTransfer(ctx, u.IdempotencyKey)
	if err != nil {
		return Resolution{}, fmt.Errorf("find transfer %s: %w", u.IdempotencyKey, err)
	}

	now := p.clock()
	log := p.logger.With(zap.Int64("order_id", u.OrderID), zap.String("key", u.IdempotencyKey))

	if conf != nil && !gateway.SameLegs(conf.Legs, p.legs(u.Kind, u.Investor, u.ValueAmount, u.ShareAmount)) {
		// Left open: an operator has to look at what the ledger holds.
		log.Error("ledger transfer does not match the unresolved settlement")
		return Resolution{Status: conf.Status}, keyConflict(u.IdempotencyKey)
	}

	switch {
	case conf != nil && conf.Status == gateway.StatusFailed:
		if err := p.resolve(ctx, u.IdempotencyKey, string(gateway.StatusFailed), "", now); err != nil {
			return Resolution{}, err
		}
		log.Info("unresolved settlement failed on ledger", zap.String("reason", conf.Reason))
		return Resolution{Resolved: true, Status: gateway.StatusFailed}, nil

	case conf != nil && conf.Status == gateway.StatusConfirmed:
		if err := p.resolve(ctx, u.IdempotencyKey, string(gateway.StatusConfirmed), conf.Reference, now); err != nil {
			return Resolution{}, err
		}
		p.book(u.Kind, u.ValueAmount, u.ShareAmount)
		observability.RecordLateSettlement()
		log.Warn("late confirmation booked", zap.String("reference", conf.Reference))
		return Resolution{
			Resolved: true,
			Status:   gateway.StatusConfirmed,
			Receipt: &domain.SettlementReceipt{
				StrikeID:       u.StrikeID,
				OrderID:        u.OrderID,
				Investor:       u.Investor,
				Kind:           u.Kind,
				Reference:      conf.Reference,
				IdempotencyKey: u.IdempotencyKey,
				ExecutionNAV:   u.ExecutionNAV,
				ValueAmount:    u.ValueAmount,
				ShareAmount:    u.ShareAmount,
				SettledAt:      now,
				Late:           true,
			},
		}, nil
	}

	// unknown to the ledger or still pending: keep waiting
	if conf == nil {
		return Resolution{Status: gateway.StatusPending}, nil
	}
	return Resolution{Status: conf.Status}, nil
}

func (p *Processor) resolve(ctx context.Context, key, resolution, reference string, at time.Time) error {
	if p.unresolved == nil {
		return nil
	}
	if err := p.unresolved.Resolve(ctx, key, resolution, reference, at); err != nil {
		return fmt.Errorf("resolve %s: %w", key, err)
	}
	return nil
}
