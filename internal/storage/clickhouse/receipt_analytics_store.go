package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// ReceiptAnalyticsStore implements storage.ReceiptAnalyticsStore using ClickHouse.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
type ReceiptAnalyticsStore struct {
	conn *Conn
}

// NewReceiptAnalyticsStore creates a new ReceiptAnalyticsStore.
func NewReceiptAnalyticsStore(conn *Conn) *ReceiptAnalyticsStore {
	return &ReceiptAnalyticsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ReceiptAnalyticsStore = (*ReceiptAnalyticsStore)(nil)

// InsertBulk appends receipts. Fails entire batch on duplicate (strike_id, order_id).
func (s *ReceiptAnalyticsStore) InsertBulk(ctx context.Context, receipts []domain.SettlementReceipt) (err error) {
	if len(receipts) == 0 {
		return nil
	}
	defer track("insert_receipts", &err)()

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(receipts))
	for _, r := range receipts {
		if r.StrikeID == "" || r.OrderID <= 0 {
			return storage.ErrInvalidInput
		}
		key := fmt.Sprintf("%s|%d", r.StrikeID, r.OrderID)
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, r := range receipts {
		exists, err := s.exists(ctx, r.StrikeID, r.OrderID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO settlement_receipts (
			strike_id, order_id, investor, kind, reference,
			execution_nav, value_amount, share_amount, settled_at, late
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range receipts {
		var late uint8
		if r.Late {
			late = 1
		}
		err = batch.Append(
			r.StrikeID, r.OrderID, r.Investor, string(r.Kind), r.Reference,
			r.ExecutionNAV, r.ValueAmount, r.ShareAmount, r.SettledAt.UTC(), late,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// DailyFlows aggregates receipts by UTC day and kind within [start, end).
func (s *ReceiptAnalyticsStore) DailyFlows(ctx context.Context, start, end time.Time) (flows []domain.DailyFlow, err error) {
	defer track("daily_flows", &err)()

	rows, err := s.conn.Query(ctx, `
		SELECT
			toDate(settled_at) AS day,
			kind,
			count() AS orders,
			sum(value_amount) AS value,
			sum(share_amount) AS shares
		FROM settlement_receipts
		WHERE settled_at >= ? AND settled_at < ?
		GROUP BY day, kind
		ORDER BY day ASC, kind ASC
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query daily flows: %w", err)
	}
	defer rows.Close()

	flows = []domain.DailyFlow{}
	for rows.Next() {
		var (
			day           time.Time
			kind          string
			orders        uint64
			value, shares decimal.Decimal
		)
		if err := rows.Scan(&day, &kind, &orders, &value, &shares); err != nil {
			return nil, fmt.Errorf("scan daily flow: %w", err)
		}
		flows = append(flows, domain.DailyFlow{
			Day:    time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			Kind:   domain.OrderKind(kind),
			Orders: int64(orders),
			Value:  value,
			Shares: shares,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily flows: %w", err)
	}
	return flows, nil
}

func (s *ReceiptAnalyticsStore) exists(ctx context.Context, strikeID string, orderID int64) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM settlement_receipts
		WHERE strike_id = ? AND order_id = ?
	`, strikeID, orderID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
