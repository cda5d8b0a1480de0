// Package fund holds the fund's in-memory accounting.
package fund

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nav-strike-engine/internal/domain"
)

// Ledger owns one fund's FundState. All mutation goes through its methods
// under a single mutex; readers get copies.
type Ledger struct {
	mu     sync.Mutex
	state  domain.FundState
	logger *zap.Logger
}

// NewLedger creates a Ledger from an initial or restored state.
func NewLedger(initial domain.FundState, logger *zap.Logger) (*Ledger, error) {
	if initial.FundID == "" {
		return nil, domain.NewConfigurationError("fund id is required")
	}
	if !initial.CurrentNAV.IsPositive() {
		return nil, domain.NewValidationError("initial NAV must be positive, got %s", initial.CurrentNAV)
	}
	if initial.TotalAUM.IsNegative() || initial.TotalSharesOutstanding.IsNegative() {
		return nil, domain.NewValidationError("initial AUM and shares must be non-negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		state:  initial.Clone(),
		logger: logger.Named("fund"),
	}, nil
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() domain.FundState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// FundID returns the fund identity.
func (l *Ledger) FundID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.FundID
}

// FixNAV commits the strike price and strike time.
func (l *Ledger) FixNAV(nav decimal.Decimal, at time.Time) error {
	if !nav.IsPositive() {
		return domain.NewValidationError("NAV must be positive, got %s", nav)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.CurrentNAV = nav
	t := at
	l.state.LastStrikeTime = &t
	l.state.UpdatedAt = at
	return nil
}

// ApplySubscription books a confirmed subscription: value in, shares minted.
func (l *Ledger) ApplySubscription(value, shares decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.TotalAUM = l.state.TotalAUM.Add(value)
	l.state.TotalSharesOutstanding = l.state.TotalSharesOutstanding.Add(shares)
	l.state.UpdatedAt = time.Now()
}

// ApplyRedemption books a confirmed redemption: shares burned, value paid out.
// AUM may go transiently negative here; ClampAUM restores the invariant.
func (l *Ledger) ApplyRedemption(value, shares decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.TotalAUM = l.state.TotalAUM.Sub(value)
	l.state.TotalSharesOutstanding = l.state.TotalSharesOutstanding.Sub(shares)
	l.state.UpdatedAt = time.Now()
}

// ClampAUM sets a negative TotalAUM to zero. Returns true if it clamped.
func (l *Ledger) ClampAUM() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.TotalAUM.IsNegative() {
		return false
	}
	l.logger.Warn("total AUM below zero after strike, clamping",
		zap.String("fund_id", l.state.FundID),
		zap.String("aum", l.state.TotalAUM.String()))
	l.state.TotalAUM = decimal.Zero
	return true
}
