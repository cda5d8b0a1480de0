package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrikePhase is the orchestrator state during a strike.
type StrikePhase string

const (
	StrikePhaseScheduled StrikePhase = "SCHEDULED"
	StrikePhaseNAVFixing StrikePhase = "NAV_FIXING"
	StrikePhaseSettling  StrikePhase = "SETTLING"
	StrikePhaseReporting StrikePhase = "REPORTING"
	StrikePhaseComplete  StrikePhase = "COMPLETE"
)

// SettlementReceipt is produced for each executed order.
// Corresponds to settlement_receipts table.
type SettlementReceipt struct {
	StrikeID       string
	OrderID        int64
	Investor       string
	Kind           OrderKind
	Reference      string          // ledger transaction reference
	IdempotencyKey string          // settlement key sent with the transfer
	ExecutionNAV   decimal.Decimal // fixed NAV of the strike
	ValueAmount    decimal.Decimal // value leg (paid in or paid out)
	ShareAmount    decimal.Decimal // share leg (minted or burned)
	SettledAt      time.Time
	Late           bool // confirmed by reconciliation after the strike had failed it
}

// OrderFailure records why an order ended FAILED during a strike.
type OrderFailure struct {
	OrderID  int64
	Investor string
	Kind     OrderKind
	Amount   decimal.Decimal
	Reason   string
	TimedOut bool // outcome unknown, tracked for reconciliation
}

// StrikeReport summarizes one strike execution. Immutable once returned.
// Corresponds to strike_reports table.
type StrikeReport struct {
	StrikeID   string
	StrikeTime time.Time
	NAV        decimal.Decimal

	SubscriptionsProcessed int
	TotalValueSubscribed   decimal.Decimal
	TotalSharesMinted      decimal.Decimal

	RedemptionsProcessed int
	TotalSharesRedeemed  decimal.Decimal
	TotalValuePaid       decimal.Decimal

	Receipts []SettlementReceipt // executed orders, by OrderID ascending
	Failures []OrderFailure      // failed orders, by OrderID ascending
	Requeued []int64             // ids of fresh orders created by the retry policy

	AUMClamped bool // TotalAUM went below zero and was clamped
	StartedAt  time.Time
	FinishedAt time.Time
}

// UnresolvedSettlement tracks a timed-out transfer whose outcome must be
// reconciled after the strike.
type UnresolvedSettlement struct {
	IdempotencyKey string
	StrikeID       string
	OrderID        int64
	Investor       string
	Kind           OrderKind
	ExecutionNAV   decimal.Decimal
	ValueAmount    decimal.Decimal
	ShareAmount    decimal.Decimal
	Handle         string // gateway pending handle
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	Resolution     string // CONFIRMED | FAILED, empty while open
	Reference      string
}

// DailyFlow aggregates executed receipts of one kind over one UTC day.
type DailyFlow struct {
	Day    time.Time
	Kind   OrderKind
	Orders int64
	Value  decimal.Decimal
	Shares decimal.Decimal
}
