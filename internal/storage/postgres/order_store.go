package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

const orderColumns = `
	order_id, investor, kind, amount::text, target_strike_time, status,
	failure_reason, attempt, parent_order_id, created_at, settled_at
`

// Insert adds a new order and advances the id watermark in the same transaction.
func (s *OrderStore) Insert(ctx context.Context, o *domain.StrikeOrder) (err error) {
	if o == nil || o.OrderID <= 0 {
		return storage.ErrInvalidInput
	}
	defer track("insert_order", &err)()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO strike_orders (
			order_id, investor, kind, amount, target_strike_time, status,
			failure_reason, attempt, parent_order_id, created_at, settled_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
	`,
		o.OrderID,
		o.Investor,
		string(o.Kind),
		numeric(o.Amount),
		o.TargetStrikeTime,
		string(o.Status),
		o.FailureReason,
		o.Attempt,
		o.ParentOrderID,
		o.CreatedAt,
		o.SettledAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_id_watermark (singleton, max_order_id) VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE
		SET max_order_id = GREATEST(order_id_watermark.max_order_id, EXCLUDED.max_order_id)
	`, o.OrderID)
	if err != nil {
		return fmt.Errorf("advance order watermark: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpdateStatus moves an order out of PENDING.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus, reason string, settledAt time.Time) (err error) {
	if !status.IsTerminal() {
		return storage.ErrInvalidInput
	}
	defer track("update_order_status", &err)()

	tag, err := s.pool.Exec(ctx, `
		UPDATE strike_orders
		SET status = $2, failure_reason = $3, settled_at = $4
		WHERE order_id = $1 AND status = 'PENDING'
	`, orderID, string(status), reason, settledAt)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing order from one that is already terminal.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM strike_orders WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrInvalidInput
}

// Delete removes a PENDING order.
func (s *OrderStore) Delete(ctx context.Context, orderID int64) (err error) {
	defer track("delete_order", &err)()

	tag, err := s.pool.Exec(ctx, `DELETE FROM strike_orders WHERE order_id = $1 AND status = 'PENDING'`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an order by its ID.
func (s *OrderStore) GetByID(ctx context.Context, orderID int64) (o *domain.StrikeOrder, err error) {
	defer track("get_order", &err)()

	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM strike_orders WHERE order_id = $1`, orderID)
	o, err = scanOrder(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListByStatus retrieves all orders with the given status, ordered by order_id ASC.
func (s *OrderStore) ListByStatus(ctx context.Context, status domain.OrderStatus) (orders []*domain.StrikeOrder, err error) {
	defer track("list_orders", &err)()

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM strike_orders
		WHERE status = $1
		ORDER BY order_id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// MaxOrderID returns the highest order_id ever stored, 0 if none.
func (s *OrderStore) MaxOrderID(ctx context.Context) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT max_order_id FROM order_id_watermark WHERE singleton`).Scan(&max)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get order watermark: %w", err)
	}
	return max, nil
}

func scanOrder(row pgx.Row) (*domain.StrikeOrder, error) {
	var (
		o      domain.StrikeOrder
		kind   string
		status string
		amount string
	)
	err := row.Scan(
		&o.OrderID,
		&o.Investor,
		&kind,
		&amount,
		&o.TargetStrikeTime,
		&status,
		&o.FailureReason,
		&o.Attempt,
		&o.ParentOrderID,
		&o.CreatedAt,
		&o.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	if o.Amount, err = parseNumeric("amount", amount); err != nil {
		return nil, err
	}
	return &o, nil
}
