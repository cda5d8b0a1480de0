package domain

import (
	"github.com/shopspring/decimal"
)

// LedgerScale is the number of fractional digits of the ledger's base unit.
// All value and share amounts are held at this precision.
const LedgerScale int32 = 6

// ValidatePositive checks that an amount is > 0 and representable in base units.
func ValidatePositive(name string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return NewValidationError("%s must be positive, got %s", name, d.String())
	}
	if !d.Equal(d.Truncate(LedgerScale)) {
		return NewValidationError("%s %s exceeds %d fractional digits", name, d.String(), LedgerScale)
	}
	return nil
}

// ParseAmount parses a decimal string and validates it with ValidatePositive.
func ParseAmount(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError("%s %q is not a decimal", name, s)
	}
	if err := ValidatePositive(name, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// SharesForValue returns value/nav truncated toward zero at LedgerScale.
func SharesForValue(value, nav decimal.Decimal) decimal.Decimal {
	q, _ := value.QuoRem(nav, LedgerScale)
	return q
}

// ValueForShares returns shares*nav truncated toward zero at LedgerScale.
func ValueForShares(shares, nav decimal.Decimal) decimal.Decimal {
	return shares.Mul(nav).Truncate(LedgerScale)
}

// ToBaseUnits renders an amount as an integer count of ledger base units.
// Any digits beyond LedgerScale are truncated.
func ToBaseUnits(d decimal.Decimal) string {
	return d.Shift(LedgerScale).Truncate(0).String()
}

// FromBaseUnits parses an integer count of ledger base units.
func FromBaseUnits(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-LedgerScale), nil
}
