package postgres

import (
	"context"
	"fmt"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// FundStateStore implements storage.FundStateStore using PostgreSQL.
type FundStateStore struct {
	pool *Pool
}

// NewFundStateStore creates a new FundStateStore.
func NewFundStateStore(pool *Pool) *FundStateStore {
	return &FundStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FundStateStore = (*FundStateStore)(nil)

// Save upserts the state for s.FundID.
func (s *FundStateStore) Save(ctx context.Context, st *domain.FundState) (err error) {
	if st == nil || st.FundID == "" {
		return storage.ErrInvalidInput
	}
	defer track("save_fund_state", &err)()

	schedule := st.StrikeSchedule
	if schedule == nil {
		schedule = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO fund_state (
			fund_id, current_nav, total_aum, total_shares_outstanding,
			strike_schedule, last_strike_time, updated_at
		) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6, $7)
		ON CONFLICT (fund_id) DO UPDATE SET
			current_nav = EXCLUDED.current_nav,
			total_aum = EXCLUDED.total_aum,
			total_shares_outstanding = EXCLUDED.total_shares_outstanding,
			strike_schedule = EXCLUDED.strike_schedule,
			last_strike_time = EXCLUDED.last_strike_time,
			updated_at = EXCLUDED.updated_at
	`,
		st.FundID,
		numeric(st.CurrentNAV),
		numeric(st.TotalAUM),
		numeric(st.TotalSharesOutstanding),
		schedule,
		st.LastStrikeTime,
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save fund state: %w", err)
	}
	return nil
}

// Load retrieves the state of a fund.
func (s *FundStateStore) Load(ctx context.Context, fundID string) (st *domain.FundState, err error) {
	defer track("load_fund_state", &err)()

	var (
		out              domain.FundState
		nav, aum, shares string
	)
	err = s.pool.QueryRow(ctx, `
		SELECT fund_id, current_nav::text, total_aum::text, total_shares_outstanding::text,
			strike_schedule, last_strike_time, updated_at
		FROM fund_state
		WHERE fund_id = $1
	`, fundID).Scan(
		&out.FundID, &nav, &aum, &shares,
		&out.StrikeSchedule, &out.LastStrikeTime, &out.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load fund state: %w", err)
	}

	if out.CurrentNAV, err = parseNumeric("current_nav", nav); err != nil {
		return nil, err
	}
	if out.TotalAUM, err = parseNumeric("total_aum", aum); err != nil {
		return nil, err
	}
	if out.TotalSharesOutstanding, err = parseNumeric("total_shares_outstanding", shares); err != nil {
		return nil, err
	}
	return &out, nil
}
