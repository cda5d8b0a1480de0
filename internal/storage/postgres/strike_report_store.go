package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// StrikeReportStore implements storage.StrikeReportStore using PostgreSQL.
// Receipts and failures live in child tables keyed by strike_id.
type StrikeReportStore struct {
	pool *Pool
}

// NewStrikeReportStore creates a new StrikeReportStore.
func NewStrikeReportStore(pool *Pool) *StrikeReportStore {
	return &StrikeReportStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StrikeReportStore = (*StrikeReportStore)(nil)

const reportColumns = `
	strike_id, strike_time, nav::text,
	subscriptions_processed, total_value_subscribed::text, total_shares_minted::text,
	redemptions_processed, total_shares_redeemed::text, total_value_paid::text,
	requeued_order_ids, aum_clamped, started_at, finished_at
`

// Insert adds a report with its receipts and failures atomically.
func (s *StrikeReportStore) Insert(ctx context.Context, r *domain.StrikeReport) (err error) {
	if r == nil || r.StrikeID == "" {
		return storage.ErrInvalidInput
	}
	defer track("insert_strike_report", &err)()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	requeued := r.Requeued
	if requeued == nil {
		requeued = []int64{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO strike_reports (
			strike_id, strike_time, nav,
			subscriptions_processed, total_value_subscribed, total_shares_minted,
			redemptions_processed, total_shares_redeemed, total_value_paid,
			requeued_order_ids, aum_clamped, started_at, finished_at
		) VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6::numeric, $7, $8::numeric, $9::numeric, $10, $11, $12, $13)
	`,
		r.StrikeID, r.StrikeTime, numeric(r.NAV),
		r.SubscriptionsProcessed, numeric(r.TotalValueSubscribed), numeric(r.TotalSharesMinted),
		r.RedemptionsProcessed, numeric(r.TotalSharesRedeemed), numeric(r.TotalValuePaid),
		requeued, r.AUMClamped, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert strike report: %w", err)
	}

	for _, rc := range r.Receipts {
		_, err = tx.Exec(ctx, `
			INSERT INTO settlement_receipts (
				strike_id, order_id, investor, kind, reference, idempotency_key,
				execution_nav, value_amount, share_amount, settled_at, late
			) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11)
		`,
			r.StrikeID, rc.OrderID, rc.Investor, string(rc.Kind), rc.Reference, rc.IdempotencyKey,
			numeric(rc.ExecutionNAV), numeric(rc.ValueAmount), numeric(rc.ShareAmount), rc.SettledAt, rc.Late,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert settlement receipt: %w", err)
		}
	}

	for _, f := range r.Failures {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_failures (
				strike_id, order_id, investor, kind, amount, reason, timed_out
			) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		`,
			r.StrikeID, f.OrderID, f.Investor, string(f.Kind), numeric(f.Amount), f.Reason, f.TimedOut,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert order failure: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a report with its receipts and failures.
func (s *StrikeReportStore) GetByID(ctx context.Context, strikeID string) (r *domain.StrikeReport, err error) {
	defer track("get_strike_report", &err)()

	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM strike_reports WHERE strike_id = $1`, strikeID)
	r, err = scanReport(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get strike report: %w", err)
	}
	if err = s.loadChildren(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRecent retrieves up to limit reports, newest strike first.
func (s *StrikeReportStore) ListRecent(ctx context.Context, limit int) (reports []*domain.StrikeReport, err error) {
	defer track("list_strike_reports", &err)()

	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM strike_reports
		ORDER BY strike_time DESC, strike_id DESC
		LIMIT $1
	`, lim)
	if err != nil {
		return nil, fmt.Errorf("list strike reports: %w", err)
	}

	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan strike report: %w", err)
		}
		reports = append(reports, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strike reports: %w", err)
	}

	for _, r := range reports {
		if err := s.loadChildren(ctx, r); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *StrikeReportStore) loadChildren(ctx context.Context, r *domain.StrikeReport) error {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, investor, kind, reference, idempotency_key,
			execution_nav::text, value_amount::text, share_amount::text, settled_at, late
		FROM settlement_receipts
		WHERE strike_id = $1
		ORDER BY order_id ASC
	`, r.StrikeID)
	if err != nil {
		return fmt.Errorf("get settlement receipts: %w", err)
	}
	r.Receipts, err = scanReceipts(r.StrikeID, rows)
	if err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT order_id, investor, kind, amount::text, reason, timed_out
		FROM order_failures
		WHERE strike_id = $1
		ORDER BY order_id ASC
	`, r.StrikeID)
	if err != nil {
		return fmt.Errorf("get order failures: %w", err)
	}
	r.Failures, err = scanFailures(rows)
	return err
}

func scanReport(row pgx.Row) (*domain.StrikeReport, error) {
	var (
		r                           domain.StrikeReport
		nav, valueSub, sharesMinted string
		sharesRedeemed, valuePaid   string
	)
	err := row.Scan(
		&r.StrikeID, &r.StrikeTime, &nav,
		&r.SubscriptionsProcessed, &valueSub, &sharesMinted,
		&r.RedemptionsProcessed, &sharesRedeemed, &valuePaid,
		&r.Requeued, &r.AUMClamped, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.NAV, err = parseNumeric("nav", nav); err != nil {
		return nil, err
	}
	if r.TotalValueSubscribed, err = parseNumeric("total_value_subscribed", valueSub); err != nil {
		return nil, err
	}
	if r.TotalSharesMinted, err = parseNumeric("total_shares_minted", sharesMinted); err != nil {
		return nil, err
	}
	if r.TotalSharesRedeemed, err = parseNumeric("total_shares_redeemed", sharesRedeemed); err != nil {
		return nil, err
	}
	if r.TotalValuePaid, err = parseNumeric("total_value_paid", valuePaid); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReceipts(strikeID string, rows pgx.Rows) ([]domain.SettlementReceipt, error) {
	defer rows.Close()

	receipts := []domain.SettlementReceipt{}
	for rows.Next() {
		var (
			rc                 domain.SettlementReceipt
			kind               string
			nav, value, shares string
		)
		if err := rows.Scan(
			&rc.OrderID, &rc.Investor, &kind, &rc.Reference, &rc.IdempotencyKey,
			&nav, &value, &shares, &rc.SettledAt, &rc.Late,
		); err != nil {
			return nil, fmt.Errorf("scan settlement receipt: %w", err)
		}
		rc.StrikeID = strikeID
		rc.Kind = domain.OrderKind(kind)

		var err error
		if rc.ExecutionNAV, err = parseNumeric("execution_nav", nav); err != nil {
			return nil, err
		}
		if rc.ValueAmount, err = parseNumeric("value_amount", value); err != nil {
			return nil, err
		}
		if rc.ShareAmount, err = parseNumeric("share_amount", shares); err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement receipts: %w", err)
	}
	return receipts, nil
}

func scanFailures(rows pgx.Rows) ([]domain.OrderFailure, error) {
	defer rows.Close()

	failures := []domain.OrderFailure{}
	for rows.Next() {
		var (
			f      domain.OrderFailure
			kind   string
			amount string
		)
		if err := rows.Scan(&f.OrderID, &f.Investor, &kind, &amount, &f.Reason, &f.TimedOut); err != nil {
			return nil, fmt.Errorf("scan order failure: %w", err)
		}
		f.Kind = domain.OrderKind(kind)

		var err error
		if f.Amount, err = parseNumeric("amount", amount); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order failures: %w", err)
	}
	return failures, nil
}
