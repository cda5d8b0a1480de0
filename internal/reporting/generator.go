package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nav-strike-engine/internal/storage"
)

// DefaultStrikeLimit bounds the strikes loaded into one report.
const DefaultStrikeLimit = 50

// Generator produces reports from stored data.
type Generator struct {
	reports    storage.StrikeReportStore
	funds      storage.FundStateStore
	unresolved storage.UnresolvedStore       // optional
	analytics  storage.ReceiptAnalyticsStore // optional
	now        func() time.Time              // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. unresolved and analytics may be nil.
func NewGenerator(
	reports storage.StrikeReportStore,
	funds storage.FundStateStore,
	unresolved storage.UnresolvedStore,
	analytics storage.ReceiptAnalyticsStore,
) *Generator {
	return &Generator{
		reports:    reports,
		funds:      funds,
		unresolved: unresolved,
		analytics:  analytics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a report for fundID covering [now-window, now).
func (g *Generator) Generate(ctx context.Context, fundID string, window time.Duration) (*Report, error) {
	end := g.now()
	start := end.Add(-window)

	r := &Report{
		GeneratedAt: end,
		FundID:      fundID,
		WindowStart: start,
		WindowEnd:   end,
	}

	state, err := g.funds.Load(ctx, fundID)
	switch {
	case err == nil:
		r.Fund = FundSummary{
			CurrentNAV:             state.CurrentNAV,
			TotalAUM:               state.TotalAUM,
			TotalSharesOutstanding: state.TotalSharesOutstanding,
			LastStrikeTime:         state.LastStrikeTime,
			Schedule:               state.StrikeSchedule,
		}
	case errors.Is(err, storage.ErrNotFound):
		// Fund never struck; leave the summary zero.
	default:
		return nil, fmt.Errorf("load fund state: %w", err)
	}

	reports, err := g.reports.ListRecent(ctx, DefaultStrikeLimit)
	if err != nil {
		return nil, fmt.Errorf("list strike reports: %w", err)
	}
	for _, sr := range reports {
		if sr.StrikeTime.Before(start) || !sr.StrikeTime.Before(end) {
			continue
		}
		r.Strikes = append(r.Strikes, strikeRow(sr))
	}

	if g.analytics != nil {
		flows, err := g.analytics.DailyFlows(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("load daily flows: %w", err)
		}
		r.DailyFlows = flows
	}

	if g.unresolved != nil {
		open, err := g.unresolved.ListOpen(ctx)
		if err != nil {
			return nil, fmt.Errorf("list unresolved settlements: %w", err)
		}
		for _, u := range open {
			r.Unresolved = append(r.Unresolved, UnresolvedRow{
				OrderID:   u.OrderID,
				StrikeID:  u.StrikeID,
				Investor:  u.Investor,
				Kind:      u.Kind,
				Value:     u.ValueAmount,
				Shares:    u.ShareAmount,
				CreatedAt: u.CreatedAt,
			})
		}
	}

	return r, nil
}
