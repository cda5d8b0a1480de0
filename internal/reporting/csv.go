package reporting

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"nav-strike-engine/internal/domain"
)

// RenderReceiptsCSV renders settlement receipts as CSV.
func RenderReceiptsCSV(receipts []domain.SettlementReceipt) string {
	rows := [][]string{{
		"strike_id", "order_id", "investor", "kind", "execution_nav",
		"value_amount", "share_amount", "reference", "settled_at", "late",
	}}
	for _, r := range receipts {
		rows = append(rows, []string{
			r.StrikeID,
			strconv.FormatInt(r.OrderID, 10),
			r.Investor,
			r.Kind.String(),
			r.ExecutionNAV.String(),
			r.ValueAmount.StringFixed(domain.LedgerScale),
			r.ShareAmount.StringFixed(domain.LedgerScale),
			r.Reference,
			r.SettledAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(r.Late),
		})
	}
	return writeCSV(rows)
}

// RenderFailuresCSV renders order failures of one strike as CSV.
func RenderFailuresCSV(strikeID string, failures []domain.OrderFailure) string {
	rows := [][]string{{"strike_id", "order_id", "investor", "kind", "amount", "reason", "timed_out"}}
	for _, f := range failures {
		rows = append(rows, []string{
			strikeID,
			strconv.FormatInt(f.OrderID, 10),
			f.Investor,
			f.Kind.String(),
			f.Amount.StringFixed(domain.LedgerScale),
			f.Reason,
			strconv.FormatBool(f.TimedOut),
		})
	}
	return writeCSV(rows)
}

// RenderFlowsCSV renders daily flows as CSV.
func RenderFlowsCSV(flows []domain.DailyFlow) string {
	rows := [][]string{{"day", "kind", "orders", "value", "shares"}}
	for _, f := range flows {
		rows = append(rows, []string{
			f.Day.Format("2006-01-02"),
			f.Kind.String(),
			strconv.FormatInt(f.Orders, 10),
			f.Value.StringFixed(domain.LedgerScale),
			f.Shares.StringFixed(domain.LedgerScale),
		})
	}
	return writeCSV(rows)
}

func writeCSV(rows [][]string) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	// strings.Builder writes cannot fail.
	_ = w.WriteAll(rows)
	return sb.String()
}
