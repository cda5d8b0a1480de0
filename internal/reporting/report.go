package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"nav-strike-engine/internal/domain"
)

// Report is a fund activity report over a window of strikes.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	FundID      string
	WindowStart time.Time
	WindowEnd   time.Time

	Fund FundSummary

	// Strikes in the window, newest first
	Strikes []StrikeRow

	// Executed flows per UTC day and kind, oldest first
	DailyFlows []domain.DailyFlow

	// Timed-out settlements still awaiting reconciliation
	Unresolved []UnresolvedRow
}

// FundSummary is the fund state at generation time.
type FundSummary struct {
	CurrentNAV             decimal.Decimal
	TotalAUM               decimal.Decimal
	TotalSharesOutstanding decimal.Decimal
	LastStrikeTime         *time.Time
	Schedule               []string
}

// StrikeRow summarizes one strike.
type StrikeRow struct {
	StrikeID      string
	StrikeTime    time.Time
	NAV           decimal.Decimal
	Subscriptions int
	ValueIn       decimal.Decimal
	SharesMinted  decimal.Decimal
	Redemptions   int
	SharesBurned  decimal.Decimal
	ValueOut      decimal.Decimal
	Failures      int
	TimedOut      int
	Requeued      int
	AUMClamped    bool
}

// UnresolvedRow is one open reconciliation item.
type UnresolvedRow struct {
	OrderID   int64
	StrikeID  string
	Investor  string
	Kind      domain.OrderKind
	Value     decimal.Decimal
	Shares    decimal.Decimal
	CreatedAt time.Time
}

func strikeRow(r *domain.StrikeReport) StrikeRow {
	row := StrikeRow{
		StrikeID:      r.StrikeID,
		StrikeTime:    r.StrikeTime,
		NAV:           r.NAV,
		Subscriptions: r.SubscriptionsProcessed,
		ValueIn:       r.TotalValueSubscribed,
		SharesMinted:  r.TotalSharesMinted,
		Redemptions:   r.RedemptionsProcessed,
		SharesBurned:  r.TotalSharesRedeemed,
		ValueOut:      r.TotalValuePaid,
		Failures:      len(r.Failures),
		Requeued:      len(r.Requeued),
		AUMClamped:    r.AUMClamped,
	}
	for _, f := range r.Failures {
		if f.TimedOut {
			row.TimedOut++
		}
	}
	return row
}
