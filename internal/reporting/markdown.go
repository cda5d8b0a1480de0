package reporting

import (
	"fmt"
	"strings"
	"time"

	"nav-strike-engine/internal/domain"
)

// RenderMarkdown renders a fund activity report as Markdown.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Fund Report: %s\n\n", r.FundID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window: %s to %s\n\n", r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339)))

	// Fund state
	sb.WriteString("## Fund State\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| NAV | %s |\n", r.Fund.CurrentNAV))
	sb.WriteString(fmt.Sprintf("| Total AUM | %s |\n", r.Fund.TotalAUM))
	sb.WriteString(fmt.Sprintf("| Shares Outstanding | %s |\n", r.Fund.TotalSharesOutstanding))
	sb.WriteString(fmt.Sprintf("| Last Strike | %s |\n", formatTimePtr(r.Fund.LastStrikeTime)))
	sb.WriteString(fmt.Sprintf("| Schedule | %s |\n", strings.Join(r.Fund.Schedule, ", ")))
	sb.WriteString("\n")

	// Strikes
	sb.WriteString("## Strikes\n\n")
	if len(r.Strikes) > 0 {
		sb.WriteString("| Strike | Time | NAV | Subs | Value In | Minted | Reds | Burned | Value Out | Failed | Timed Out | Requeued | Clamped |\n")
		sb.WriteString("|--------|------|-----|------|----------|--------|------|--------|-----------|--------|-----------|----------|---------|\n")
		for _, s := range r.Strikes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %s | %d | %s | %s | %d | %d | %d | %s |\n",
				s.StrikeID, s.StrikeTime.Format(time.RFC3339), s.NAV,
				s.Subscriptions, s.ValueIn, s.SharesMinted,
				s.Redemptions, s.SharesBurned, s.ValueOut,
				s.Failures, s.TimedOut, s.Requeued, yesNo(s.AUMClamped)))
		}
	} else {
		sb.WriteString("No strikes in window.\n")
	}
	sb.WriteString("\n")

	// Daily flows
	sb.WriteString("## Daily Flows\n\n")
	if len(r.DailyFlows) > 0 {
		sb.WriteString("| Day | Kind | Orders | Value | Shares |\n")
		sb.WriteString("|-----|------|--------|-------|--------|\n")
		for _, f := range r.DailyFlows {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s |\n",
				f.Day.Format("2006-01-02"), f.Kind, f.Orders, f.Value, f.Shares))
		}
	} else {
		sb.WriteString("No flow data available.\n")
	}
	sb.WriteString("\n")

	// Unresolved
	sb.WriteString("## Unresolved Settlements\n\n")
	if len(r.Unresolved) > 0 {
		sb.WriteString("| Order | Strike | Investor | Kind | Value | Shares | Since |\n")
		sb.WriteString("|-------|--------|----------|------|-------|--------|-------|\n")
		for _, u := range r.Unresolved {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s |\n",
				u.OrderID, u.StrikeID, u.Investor, u.Kind, u.Value, u.Shares, u.CreatedAt.Format(time.RFC3339)))
		}
	} else {
		sb.WriteString("None.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

// RenderStrikeMarkdown renders a single strike report with its receipts and failures.
func RenderStrikeMarkdown(r *domain.StrikeReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Strike %s\n\n", r.StrikeID))
	sb.WriteString(fmt.Sprintf("Strike time: %s | NAV: %s | Duration: %s\n\n",
		r.StrikeTime.Format(time.RFC3339), r.NAV, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)))
	if r.AUMClamped {
		sb.WriteString("**AUM was clamped at zero after settlement.**\n\n")
	}

	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Kind | Orders | Value | Shares |\n")
	sb.WriteString("|------|--------|-------|--------|\n")
	sb.WriteString(fmt.Sprintf("| SUBSCRIBE | %d | %s | %s |\n",
		r.SubscriptionsProcessed, r.TotalValueSubscribed, r.TotalSharesMinted))
	sb.WriteString(fmt.Sprintf("| REDEEM | %d | %s | %s |\n",
		r.RedemptionsProcessed, r.TotalValuePaid, r.TotalSharesRedeemed))
	sb.WriteString("\n")

	sb.WriteString("## Receipts\n\n")
	if len(r.Receipts) > 0 {
		sb.WriteString("| Order | Investor | Kind | Value | Shares | Reference |\n")
		sb.WriteString("|-------|----------|------|-------|--------|-----------|\n")
		for _, rc := range r.Receipts {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
				rc.OrderID, rc.Investor, rc.Kind, rc.ValueAmount, rc.ShareAmount, rc.Reference))
		}
	} else {
		sb.WriteString("No orders executed.\n")
	}
	sb.WriteString("\n")

	if len(r.Failures) > 0 {
		sb.WriteString("## Failures\n\n")
		sb.WriteString("| Order | Investor | Kind | Amount | Reason | Timed Out |\n")
		sb.WriteString("|-------|----------|------|--------|--------|-----------|\n")
		for _, f := range r.Failures {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
				f.OrderID, f.Investor, f.Kind, f.Amount, escapePipes(f.Reason), yesNo(f.TimedOut)))
		}
		sb.WriteString("\n")
	}

	if len(r.Requeued) > 0 {
		ids := make([]string, len(r.Requeued))
		for i, id := range r.Requeued {
			ids[i] = fmt.Sprintf("%d", id)
		}
		sb.WriteString(fmt.Sprintf("Requeued as orders: %s\n\n", strings.Join(ids, ", ")))
	}

	return sb.String()
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
