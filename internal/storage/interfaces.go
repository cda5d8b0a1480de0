package storage

import (
	"context"
	"time"

	"nav-strike-engine/internal/domain"
)

// OrderStore provides access to strike_orders storage.
type OrderStore interface {
	// Insert adds a new order. Returns ErrDuplicateKey if order_id exists.
	Insert(ctx context.Context, o *domain.StrikeOrder) error

	// UpdateStatus moves an order out of PENDING. Returns ErrNotFound if the
	// order does not exist and ErrInvalidInput if it is already terminal.
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus, reason string, settledAt time.Time) error

	// Delete removes a PENDING order. Returns ErrNotFound if no pending order has the id.
	Delete(ctx context.Context, orderID int64) error

	// GetByID retrieves an order by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, orderID int64) (*domain.StrikeOrder, error)

	// ListByStatus retrieves all orders with the given status, ordered by order_id ASC.
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.StrikeOrder, error)

	// MaxOrderID returns the highest order_id ever stored, 0 if none.
	MaxOrderID(ctx context.Context) (int64, error)
}

// StrikeReportStore provides access to strike_reports and their receipts.
type StrikeReportStore interface {
	// Insert adds a report with its receipts. Returns ErrDuplicateKey if strike_id exists.
	Insert(ctx context.Context, r *domain.StrikeReport) error

	// GetByID retrieves a report by strike ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, strikeID string) (*domain.StrikeReport, error)

	// ListRecent retrieves up to limit reports, newest strike first.
	ListRecent(ctx context.Context, limit int) ([]*domain.StrikeReport, error)
}

// FundStateStore persists the fund accounting between restarts.
type FundStateStore interface {
	// Save upserts the state for s.FundID.
	Save(ctx context.Context, s *domain.FundState) error

	// Load retrieves the state of a fund. Returns ErrNotFound if never saved.
	Load(ctx context.Context, fundID string) (*domain.FundState, error)
}

// UnresolvedStore tracks timed-out settlements awaiting reconciliation.
type UnresolvedStore interface {
	// Insert adds a record. Returns ErrDuplicateKey if idempotency_key exists.
	Insert(ctx context.Context, u *domain.UnresolvedSettlement) error

	// ListOpen retrieves records not yet resolved, ordered by order_id ASC.
	ListOpen(ctx context.Context) ([]*domain.UnresolvedSettlement, error)

	// Resolve closes a record. Returns ErrNotFound if no open record has the key.
	Resolve(ctx context.Context, idempotencyKey, resolution, reference string, at time.Time) error
}

// ReceiptAnalyticsStore provides access to settlement receipt analytics.
type ReceiptAnalyticsStore interface {
	// InsertBulk appends receipts. Fails entire batch on duplicate (strike_id, order_id).
	InsertBulk(ctx context.Context, receipts []domain.SettlementReceipt) error

	// DailyFlows aggregates receipts by UTC day and kind within [start, end).
	DailyFlows(ctx context.Context, start, end time.Time) ([]domain.DailyFlow, error)
}
