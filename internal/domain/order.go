package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind is the direction of an investor intent.
type OrderKind string

const (
	OrderKindSubscribe OrderKind = "SUBSCRIBE"
	OrderKindRedeem    OrderKind = "REDEEM"
)

// String returns the string representation of OrderKind.
func (k OrderKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k OrderKind) IsValid() bool {
	return k == OrderKindSubscribe || k == OrderKindRedeem
}

// ParseOrderKind accepts the canonical names and their lowercase forms.
func ParseOrderKind(s string) (OrderKind, error) {
	switch s {
	case "SUBSCRIBE", "subscribe":
		return OrderKindSubscribe, nil
	case "REDEEM", "redeem":
		return OrderKindRedeem, nil
	}
	return "", NewValidationError("unknown order kind %q", s)
}

// OrderStatus is the settlement state of an order.
// Transitions are one-way: PENDING -> EXECUTED or PENDING -> FAILED.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusExecuted OrderStatus = "EXECUTED"
	OrderStatusFailed   OrderStatus = "FAILED"
)

// String returns the string representation of OrderStatus.
func (s OrderStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusExecuted || s == OrderStatusFailed
}

// StrikeOrder represents one investor intent awaiting a strike.
// Corresponds to strike_orders table in PostgreSQL.
type StrikeOrder struct {
	OrderID          int64           // monotonically assigned, never reused
	Investor         string          // investor wallet address
	Kind             OrderKind       // SUBSCRIBE | REDEEM
	Amount           decimal.Decimal // value units for SUBSCRIBE, shares for REDEEM
	TargetStrikeTime time.Time       // next strike at enqueue time
	Status           OrderStatus     // PENDING | EXECUTED | FAILED
	FailureReason    string          // set when Status is FAILED
	Attempt          int             // 1 for a fresh order, >1 when requeued
	ParentOrderID    *int64          // order this one was requeued from (nullable)
	CreatedAt        time.Time
	SettledAt        *time.Time // when the order reached a terminal status (nullable)
}
