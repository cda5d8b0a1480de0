// Package idhash derives deterministic identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"nav-strike-engine/internal/domain"
)

// ComputeSettlementKey computes the idempotency key of an order's settlement.
// Formula: SHA256(fund_id|investor|order_id|enqueued_at_us|kind|amount)
// The enqueue time is taken in microseconds, the precision it is persisted
// at, so the key survives a restart that reloads the order while an order id
// reused by a fresh in-memory queue still hashes differently.
// The amount is normalized so 1000 and 1000.00 hash alike.
// Returns hex-encoded hash (64 characters).
func ComputeSettlementKey(
	fundID string,
	investor string,
	orderID int64,
	enqueuedAt time.Time,
	kind domain.OrderKind,
	amount decimal.Decimal,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%s|%s",
		fundID,
		investor,
		orderID,
		enqueuedAt.UnixMicro(),
		string(kind),
		amount.StringFixed(domain.LedgerScale),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// OrderSettlementKey computes the settlement key of a queued order.
func OrderSettlementKey(fundID string, o domain.StrikeOrder) string {
	return ComputeSettlementKey(fundID, o.Investor, o.OrderID, o.CreatedAt, o.Kind, o.Amount)
}
