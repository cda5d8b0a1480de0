package postgres

import (
	"context"
	"fmt"
	"time"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/storage"
)

// UnresolvedStore implements storage.UnresolvedStore using PostgreSQL.
type UnresolvedStore struct {
	pool *Pool
}

// NewUnresolvedStore creates a new UnresolvedStore.
func NewUnresolvedStore(pool *Pool) *UnresolvedStore {
	return &UnresolvedStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UnresolvedStore = (*UnresolvedStore)(nil)

// Insert adds a record. Returns ErrDuplicateKey if idempotency_key exists.
func (s *UnresolvedStore) Insert(ctx context.Context, u *domain.UnresolvedSettlement) (err error) {
	if u == nil || u.IdempotencyKey == "" {
		return storage.ErrInvalidInput
	}
	defer track("insert_unresolved", &err)()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO unresolved_settlements (
			idempotency_key, strike_id, order_id, investor, kind,
			execution_nav, value_amount, share_amount, handle, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10)
	`,
		u.IdempotencyKey, u.StrikeID, u.OrderID, u.Investor, string(u.Kind),
		numeric(u.ExecutionNAV), numeric(u.ValueAmount), numeric(u.ShareAmount), u.Handle, u.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert unresolved settlement: %w", err)
	}
	return nil
}

// ListOpen retrieves records not yet resolved, ordered by order_id ASC.
func (s *UnresolvedStore) ListOpen(ctx context.Context) (open []*domain.UnresolvedSettlement, err error) {
	defer track("list_unresolved", &err)()

	rows, err := s.pool.Query(ctx, `
		SELECT idempotency_key, strike_id, order_id, investor, kind,
			execution_nav::text, value_amount::text, share_amount::text, handle, created_at
		FROM unresolved_settlements
		WHERE resolved_at IS NULL
		ORDER BY order_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved settlements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u                  domain.UnresolvedSettlement
			kind               string
			nav, value, shares string
		)
		if err := rows.Scan(
			&u.IdempotencyKey, &u.StrikeID, &u.OrderID, &u.Investor, &kind,
			&nav, &value, &shares, &u.Handle, &u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unresolved settlement: %w", err)
		}
		u.Kind = domain.OrderKind(kind)
		if u.ExecutionNAV, err = parseNumeric("execution_nav", nav); err != nil {
			return nil, err
		}
		if u.ValueAmount, err = parseNumeric("value_amount", value); err != nil {
			return nil, err
		}
		if u.ShareAmount, err = parseNumeric("share_amount", shares); err != nil {
			return nil, err
		}
		open = append(open, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved settlements: %w", err)
	}
	return open, nil
}

// Resolve closes a record. Returns ErrNotFound if no open record has the key.
func (s *UnresolvedStore) Resolve(ctx context.Context, key, resolution, reference string, at time.Time) (err error) {
	defer track("resolve_unresolved", &err)()

	tag, err := s.pool.Exec(ctx, `
		UPDATE unresolved_settlements
		SET resolved_at = $2, resolution = $3, reference = $4
		WHERE idempotency_key = $1 AND resolved_at IS NULL
	`, key, at, resolution, reference)
	if err != nil {
		return fmt.Errorf("resolve unresolved settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
