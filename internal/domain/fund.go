package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundState is the fund's authoritative accounting.
// Corresponds to fund_state table in PostgreSQL.
type FundState struct {
	FundID                 string          // fund identity used for metadata publication
	CurrentNAV             decimal.Decimal // price per share, > 0
	TotalAUM               decimal.Decimal // value units, >= 0 after each strike
	TotalSharesOutstanding decimal.Decimal // shares, >= 0
	StrikeSchedule         []string        // "HH:MM" entries, sorted
	LastStrikeTime         *time.Time      // nil until the first strike
	UpdatedAt              time.Time
}

// Clone returns a deep copy.
func (s FundState) Clone() FundState {
	out := s
	out.StrikeSchedule = append([]string(nil), s.StrikeSchedule...)
	if s.LastStrikeTime != nil {
		t := *s.LastStrikeTime
		out.LastStrikeTime = &t
	}
	return out
}

// Metadata keys published to the ledger after NAV fixing and settlement.
const (
	MetadataKeyNAV            = "currentNAV"
	MetadataKeyLastStrikeTime = "lastStrikeTime"
	MetadataKeyTotalAUM       = "totalAUM"
)
