package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the strike engine. Callers match with errors.Is.
var (
	// ErrValidation marks synchronous input rejection: non-positive amount or NAV,
	// malformed schedule entry, bad address. No state is changed.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration marks an unusable setup, e.g. an empty strike schedule
	// or a gateway without atomic multi-leg transfers.
	ErrConfiguration = errors.New("configuration error")

	// ErrLedgerSubmission is returned when the gateway rejects a transfer or the
	// network fails before acceptance.
	ErrLedgerSubmission = errors.New("ledger submission error")

	// ErrLedgerRejected is returned when a submitted transfer is confirmed as failed.
	ErrLedgerRejected = errors.New("ledger rejected transfer")

	// ErrLedgerConfirmationTimeout is returned when a transfer was submitted but
	// no confirmation was observed in time. The outcome is unknown.
	ErrLedgerConfirmationTimeout = errors.New("ledger confirmation timeout")

	// ErrStrikeInProgress is returned when a strike is already running for the fund.
	ErrStrikeInProgress = errors.New("strike in progress")

	// ErrOrderNotFound is returned when an order id is unknown to the queue.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition is returned on an attempt to leave a terminal status.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// NewValidationError formats a message wrapped with ErrValidation.
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NewConfigurationError formats a message wrapped with ErrConfiguration.
func NewConfigurationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether a settlement error left the ledger untouched,
// so a fresh order for the same intent cannot double-settle.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerSubmission) || errors.Is(err, ErrLedgerRejected)
}
