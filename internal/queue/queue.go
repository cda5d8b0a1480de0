// Package queue holds investor intents between strikes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// StrikeTimer computes the strike an order placed at now will target.
type StrikeTimer interface {
	NextStrikeTime(now time.Time) (time.Time, error)
}

// Options for creating a Queue.
type Options struct {
	Scheduler StrikeTimer

	// Store persists orders. Optional; the in-memory sequence is authoritative.
	Store storage.OrderStore

	// ValidateInvestor rejects malformed investor handles. Optional.
	ValidateInvestor func(investor string) error

	Clock  func() time.Time
	Logger *zap.Logger
}

// Queue is the ordered collection of orders awaiting a strike.
// Writers are serialized; snapshot reads run concurrently.
type Queue struct {
	mu     sync.RWMutex
	orders []*domain.StrikeOrder // insertion order
	byID   map[int64]*domain.StrikeOrder
	nextID int64

	scheduler        StrikeTimer
	store            storage.OrderStore
	validateInvestor func(string) error
	clock            func() time.Time
	logger           *zap.Logger
}

// New creates an empty Queue.
func New(opts Options) *Queue {
	q := &Queue{
		byID:             make(map[int64]*domain.StrikeOrder),
		nextID:           1,
		scheduler:        opts.Scheduler,
		store:            opts.Store,
		validateInvestor: opts.ValidateInvestor,
		clock:            opts.Clock,
		logger:           opts.Logger,
	}
	if q.clock == nil {
		q.clock = time.Now
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	q.logger = q.logger.Named("queue")
	return q
}

// Restore reloads PENDING orders from the store and advances the id counter
// past every id ever issued. Call once before serving.
func (q *Queue) Restore(ctx context.Context) error {
	if q.store == nil {
		return nil
	}

	maxID, err := q.store.MaxOrderID(ctx)
	if err != nil {
		return fmt.Errorf("load max order id: %w", err)
	}
	pending, err := q.store.ListByStatus(ctx, domain.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("load pending orders: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, o := range pending {
		if _, exists := q.byID[o.OrderID]; exists {
			continue
		}
		c := *o
		q.orders = append(q.orders, &c)
		q.byID[c.OrderID] = &c
	}
	if maxID >= q.nextID {
		q.nextID = maxID + 1
	}

	q.logger.Info("queue restored", zap.Int("pending", len(pending)), zap.Int64("next_order_id", q.nextID))
	return nil
}

// Enqueue validates and appends a new PENDING order.
func (q *Queue) Enqueue(ctx context.Context, investor string, kind domain.OrderKind, amount decimal.Decimal) (domain.StrikeOrder, error) {
	return q.enqueue(ctx, investor, kind, amount, 1, nil)
}

// Requeue appends a fresh PENDING order carrying the intent of a failed one.
func (q *Queue) Requeue(ctx context.Context, failed domain.StrikeOrder) (domain.StrikeOrder, error) {
	if failed.Status != domain.OrderStatusFailed {
		return domain.StrikeOrder{}, fmt.Errorf("%w: order %d is %s, not FAILED",
			domain.ErrInvalidTransition, failed.OrderID, failed.Status)
	}
	parent := failed.OrderID
	return q.enqueue(ctx, failed.Investor, failed.Kind, failed.Amount, failed.Attempt+1, &parent)
}

func (q *Queue) enqueue(ctx context.Context, investor string, kind domain.OrderKind, amount decimal.Decimal, attempt int, parent *int64) (domain.StrikeOrder, error) {
	if investor == "" {
		return domain.StrikeOrder{}, domain.NewValidationError("investor is required")
	}
	if !kind.IsValid() {
		return domain.StrikeOrder{}, domain.NewValidationError("unknown order kind %q", kind)
	}
	if err := domain.ValidatePositive("amount", amount); err != nil {
		return domain.StrikeOrder{}, err
	}
	if q.validateInvestor != nil {
		if err := q.validateInvestor(investor); err != nil {
			return domain.StrikeOrder{}, err
		}
	}

	now := q.clock()
	target, err := q.scheduler.NextStrikeTime(now)
	if err != nil {
		return domain.StrikeOrder{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	o := &domain.StrikeOrder{
		OrderID:          q.nextID,
		Investor:         investor,
		Kind:             kind,
		Amount:           amount,
		TargetStrikeTime: target,
		Status:           domain.OrderStatusPending,
		Attempt:          attempt,
		ParentOrderID:    parent,
		CreatedAt:        now,
	}

	if q.store != nil {
		if err := q.store.Insert(ctx, o); err != nil {
			return domain.StrikeOrder{}, fmt.Errorf("persist order %d: %w", o.OrderID, err)
		}
	}

	q.nextID++
	q.orders = append(q.orders, o)
	q.byID[o.OrderID] = o

	q.logger.Debug("order enqueued",
		zap.Int64("order_id", o.OrderID),
		zap.String("investor", investor),
		zap.String("kind", kind.String()),
		zap.String("amount", amount.String()),
		zap.Time("target_strike_time", target))

	return *o, nil
}

// SnapshotPending returns copies of PENDING orders of one kind, in insertion order.
func (q *Queue) SnapshotPending(kind domain.OrderKind) []domain.StrikeOrder {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []domain.StrikeOrder
	for _, o := range q.orders {
		if o.Kind == kind && o.Status == domain.OrderStatusPending {
			out = append(out, *o)
		}
	}
	return out
}

// Pending returns copies of all PENDING orders, in insertion order.
func (q *Queue) Pending() []domain.StrikeOrder {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []domain.StrikeOrder
	for _, o := range q.orders {
		if o.Status == domain.OrderStatusPending {
			out = append(out, *o)
		}
	}
	return out
}

// Get returns a copy of an order still held by the queue.
func (q *Queue) Get(orderID int64) (domain.StrikeOrder, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	o, ok := q.byID[orderID]
	if !ok {
		return domain.StrikeOrder{}, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	return *o, nil
}

// Len returns the number of orders held, terminal ones included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.orders)
}

// MarkExecuted moves a PENDING order to EXECUTED.
func (q *Queue) MarkExecuted(ctx context.Context, orderID int64) error {
	return q.transition(ctx, orderID, domain.OrderStatusExecuted, "")
}

// MarkFailed moves a PENDING order to FAILED.
func (q *Queue) MarkFailed(ctx context.Context, orderID int64, reason string) error {
	return q.transition(ctx, orderID, domain.OrderStatusFailed, reason)
}

func (q *Queue) transition(ctx context.Context, orderID int64, status domain.OrderStatus, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	o, ok := q.byID[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	if o.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order %d is %s", domain.ErrInvalidTransition, orderID, o.Status)
	}

	now := q.clock()
	o.Status = status
	o.FailureReason = reason
	o.SettledAt = &now

	// The in-memory status is authoritative for the running strike; a
	// store failure is logged and left for the next restart to surface.
	if q.store != nil {
		if err := q.store.UpdateStatus(ctx, orderID, status, reason, now); err != nil {
			q.logger.Error("persist order status",
				zap.Int64("order_id", orderID),
				zap.String("status", status.String()),
				zap.Error(err))
		}
	}
	return nil
}

// Cancel removes a PENDING order so no later snapshot selects it.
func (q *Queue) Cancel(ctx context.Context, orderID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	o, ok := q.byID[orderID]
	if !ok || o.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: no pending order %d", domain.ErrOrderNotFound, orderID)
	}

	if q.store != nil {
		if err := q.store.Delete(ctx, orderID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete order %d: %w", orderID, err)
		}
	}

	delete(q.byID, orderID)
	for i, cur := range q.orders {
		if cur.OrderID == orderID {
			q.orders = append(q.orders[:i], q.orders[i+1:]...)
			break
		}
	}

	q.logger.Info("order cancelled", zap.Int64("order_id", orderID))
	return nil
}

// PurgeTerminal drops EXECUTED and FAILED orders, keeping PENDING ones in
// order. Returns the number removed.
func (q *Queue) PurgeTerminal() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.orders[:0]
	removed := 0
	for _, o := range q.orders {
		if o.Status.IsTerminal() {
			delete(q.byID, o.OrderID)
			removed++
			continue
		}
		kept = append(kept, o)
	}
	// clear the tail so purged orders can be collected
	for i := len(kept); i < len(q.orders); i++ {
		q.orders[i] = nil
	}
	q.orders = kept
	return removed
}
