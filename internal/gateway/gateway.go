// Package gateway is the boundary to the external settlement ledger:
// atomic multi-leg transfers, confirmations, fund metadata and account gating.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSubmitOutcomeUnknown is returned by SubmitAtomicTransfer when the
// request may have reached the ledger but no answer came back: a transport
// failure, a 5xx or a timeout after sending. The transfer may have committed.
var ErrSubmitOutcomeUnknown = errors.New("ledger submission outcome unknown")

// AssetKind is the asset moved by a transfer leg.
type AssetKind string

const (
	AssetValue AssetKind = "VALUE" // settlement currency
	AssetShare AssetKind = "SHARE" // fund shares
)

// Leg is one movement inside an atomic transfer. Shares moved from the
// issuer account are minted; shares moved to it are burned.
type Leg struct {
	From   string
	To     string
	Asset  AssetKind
	Amount decimal.Decimal
}

// TransferRequest is an ordered list of legs committed as one ledger transaction.
type TransferRequest struct {
	// IdempotencyKey identifies the economic intent. The ledger records it
	// so FindTransfer can detect a transfer whose confirmation was lost.
	IdempotencyKey string
	Legs           []Leg
}

// PendingHandle identifies a submitted, not yet confirmed transfer.
type PendingHandle string

// ConfirmationStatus is the observed outcome of a transfer.
type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "PENDING"
	StatusConfirmed ConfirmationStatus = "CONFIRMED"
	StatusFailed    ConfirmationStatus = "FAILED"
	StatusTimeout   ConfirmationStatus = "TIMEOUT"
)

// IsFinal reports whether the ledger reached a decision.
func (s ConfirmationStatus) IsFinal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Confirmation is the result of awaiting or looking up a transfer.
type Confirmation struct {
	Status    ConfirmationStatus
	Handle    PendingHandle
	Reference string // ledger transaction reference, set when confirmed
	Reason    string // set when failed

	// Legs are the legs the ledger recorded under the idempotency key.
	// Set by FindTransfer.
	Legs []Leg
}

// SameLegs reports whether two leg lists move the same assets between the
// same accounts in the same order.
func SameLegs(a, b []Leg) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].From != b[i].From || a[i].To != b[i].To || a[i].Asset != b[i].Asset || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}

// Capabilities describes what the ledger guarantees.
type Capabilities struct {
	// AtomicMultiLeg is true when all legs of a TransferRequest commit or none do.
	AtomicMultiLeg bool
}

// Settler submits and confirms atomic transfers.
type Settler interface {
	// Capabilities reports the ledger's transfer guarantees.
	Capabilities(ctx context.Context) (Capabilities, error)

	// SubmitAtomicTransfer submits all legs as one transaction. An error
	// wrapping domain.ErrLedgerSubmission means the ledger refused the
	// transfer; ErrSubmitOutcomeUnknown means it may have committed.
	SubmitAtomicTransfer(ctx context.Context, req TransferRequest) (PendingHandle, error)

	// AwaitConfirmation blocks until the transfer is final or timeout elapses.
	// A timeout is reported as StatusTimeout with a nil error.
	AwaitConfirmation(ctx context.Context, handle PendingHandle, timeout time.Duration) (Confirmation, error)

	// FindTransfer looks up a transfer by idempotency key, including the
	// legs recorded for it. Returns nil if the ledger has never seen the key.
	FindTransfer(ctx context.Context, idempotencyKey string) (*Confirmation, error)
}

// MetadataPublisher writes externally observable fund fields.
type MetadataPublisher interface {
	// PublishMetadataField writes key=value on the fund and returns the ledger reference.
	PublishMetadataField(ctx context.Context, fund, key, value string) (string, error)
}

// Compliance gates investor accounts. Used by the admin surface only.
type Compliance interface {
	Freeze(ctx context.Context, account string) error
	Thaw(ctx context.Context, account string) error
}

// Gateway is the full ledger collaborator.
type Gateway interface {
	Settler
	MetadataPublisher
	Compliance
}
