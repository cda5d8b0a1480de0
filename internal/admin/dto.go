package admin

import (
	"time"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/strike"
)

// EnqueueRequest is the body of POST /api/v1/orders.
type EnqueueRequest struct {
	Investor string `json:"investor" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// StrikeRequest is the body of POST /api/v1/strikes.
type StrikeRequest struct {
	NAV string `json:"nav" binding:"required"`
}

// OrderResponse is the wire form of a StrikeOrder. Decimals are strings.
type OrderResponse struct {
	OrderID          int64      `json:"order_id"`
	Investor         string     `json:"investor"`
	Kind             string     `json:"kind"`
	Amount           string     `json:"amount"`
	TargetStrikeTime time.Time  `json:"target_strike_time"`
	Status           string     `json:"status"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	Attempt          int        `json:"attempt"`
	ParentOrderID    *int64     `json:"parent_order_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

func newOrderResponse(o domain.StrikeOrder) OrderResponse {
	return OrderResponse{
		OrderID:          o.OrderID,
		Investor:         o.Investor,
		Kind:             o.Kind.String(),
		Amount:           o.Amount.String(),
		TargetStrikeTime: o.TargetStrikeTime,
		Status:           o.Status.String(),
		FailureReason:    o.FailureReason,
		Attempt:          o.Attempt,
		ParentOrderID:    o.ParentOrderID,
		CreatedAt:        o.CreatedAt,
		SettledAt:        o.SettledAt,
	}
}

// FundResponse is the wire form of FundStatus.
type FundResponse struct {
	FundID                 string     `json:"fund_id"`
	CurrentNAV             string     `json:"current_nav"`
	TotalAUM               string     `json:"total_aum"`
	TotalSharesOutstanding string     `json:"total_shares_outstanding"`
	StrikeSchedule         []string   `json:"strike_schedule"`
	LastStrikeTime         *time.Time `json:"last_strike_time,omitempty"`
	NextStrikeTime         time.Time  `json:"next_strike_time"`
	Phase                  string     `json:"phase"`
	PendingOrders          int        `json:"pending_orders"`
}

func newFundResponse(fs FundStatus) FundResponse {
	schedule := fs.State.StrikeSchedule
	if schedule == nil {
		schedule = []string{}
	}
	return FundResponse{
		FundID:                 fs.State.FundID,
		CurrentNAV:             fs.State.CurrentNAV.String(),
		TotalAUM:               fs.State.TotalAUM.String(),
		TotalSharesOutstanding: fs.State.TotalSharesOutstanding.String(),
		StrikeSchedule:         schedule,
		LastStrikeTime:         fs.State.LastStrikeTime,
		NextStrikeTime:         fs.NextStrikeTime,
		Phase:                  string(fs.Phase),
		PendingOrders:          fs.PendingOrders,
	}
}

// ReceiptResponse is the wire form of a SettlementReceipt.
type ReceiptResponse struct {
	OrderID      int64     `json:"order_id"`
	Investor     string    `json:"investor"`
	Kind         string    `json:"kind"`
	Reference    string    `json:"reference"`
	ExecutionNAV string    `json:"execution_nav"`
	ValueAmount  string    `json:"value_amount"`
	ShareAmount  string    `json:"share_amount"`
	SettledAt    time.Time `json:"settled_at"`
	Late         bool      `json:"late,omitempty"`
}

// FailureResponse is the wire form of an OrderFailure.
type FailureResponse struct {
	OrderID  int64  `json:"order_id"`
	Investor string `json:"investor"`
	Kind     string `json:"kind"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// StrikeReportResponse is the wire form of a StrikeReport.
type StrikeReportResponse struct {
	StrikeID               string            `json:"strike_id"`
	StrikeTime             time.Time         `json:"strike_time"`
	NAV                    string            `json:"nav"`
	SubscriptionsProcessed int               `json:"subscriptions_processed"`
	TotalValueSubscribed   string            `json:"total_value_subscribed"`
	TotalSharesMinted      string            `json:"total_shares_minted"`
	RedemptionsProcessed   int               `json:"redemptions_processed"`
	TotalSharesRedeemed    string            `json:"total_shares_redeemed"`
	TotalValuePaid         string            `json:"total_value_paid"`
	Receipts               []ReceiptResponse `json:"receipts"`
	Failures               []FailureResponse `json:"failures"`
	Requeued               []int64           `json:"requeued"`
	AUMClamped             bool              `json:"aum_clamped"`
	StartedAt              time.Time         `json:"started_at"`
	FinishedAt             time.Time         `json:"finished_at"`
}

func newReceiptResponses(in []domain.SettlementReceipt) []ReceiptResponse {
	out := make([]ReceiptResponse, 0, len(in))
	for _, rc := range in {
		out = append(out, ReceiptResponse{
			OrderID:      rc.OrderID,
			Investor:     rc.Investor,
			Kind:         rc.Kind.String(),
			Reference:    rc.Reference,
			ExecutionNAV: rc.ExecutionNAV.String(),
			ValueAmount:  rc.ValueAmount.String(),
			ShareAmount:  rc.ShareAmount.String(),
			SettledAt:    rc.SettledAt,
			Late:         rc.Late,
		})
	}
	return out
}

func newStrikeReportResponse(r *domain.StrikeReport) StrikeReportResponse {
	failures := make([]FailureResponse, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, FailureResponse{
			OrderID:  f.OrderID,
			Investor: f.Investor,
			Kind:     f.Kind.String(),
			Amount:   f.Amount.String(),
			Reason:   f.Reason,
			TimedOut: f.TimedOut,
		})
	}
	requeued := r.Requeued
	if requeued == nil {
		requeued = []int64{}
	}

	return StrikeReportResponse{
		StrikeID:               r.StrikeID,
		StrikeTime:             r.StrikeTime,
		NAV:                    r.NAV.String(),
		SubscriptionsProcessed: r.SubscriptionsProcessed,
		TotalValueSubscribed:   r.TotalValueSubscribed.String(),
		TotalSharesMinted:      r.TotalSharesMinted.String(),
		RedemptionsProcessed:   r.RedemptionsProcessed,
		TotalSharesRedeemed:    r.TotalSharesRedeemed.String(),
		TotalValuePaid:         r.TotalValuePaid.String(),
		Receipts:               newReceiptResponses(r.Receipts),
		Failures:               failures,
		Requeued:               requeued,
		AUMClamped:             r.AUMClamped,
		StartedAt:              r.StartedAt,
		FinishedAt:             r.FinishedAt,
	}
}

// ReconcileResponse is the wire form of a ReconcileResult.
type ReconcileResponse struct {
	Checked   int               `json:"checked"`
	Confirmed int               `json:"confirmed"`
	Failed    int               `json:"failed"`
	StillOpen int               `json:"still_open"`
	Receipts  []ReceiptResponse `json:"receipts"`
}

func newReconcileResponse(r *strike.ReconcileResult) ReconcileResponse {
	return ReconcileResponse{
		Checked:   r.Checked,
		Confirmed: r.Confirmed,
		Failed:    r.Failed,
		StillOpen: r.StillOpen,
		Receipts:  newReceiptResponses(r.Receipts),
	}
}
