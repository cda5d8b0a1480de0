// Package stub provides an in-memory ledger gateway for tests and local runs.
package stub

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/gateway"
)

// ErrFrozen is returned when a leg touches a frozen account.
var ErrFrozen = errors.New("account frozen")

// Outcome decides how a submitted transfer resolves.
type Outcome int

const (
	// OutcomeConfirm confirms the transfer immediately.
	OutcomeConfirm Outcome = iota
	// OutcomeFail confirms the transfer as failed.
	OutcomeFail
	// OutcomeTimeout leaves the transfer pending until Land or Reject is called.
	OutcomeTimeout
	// OutcomeLost commits the transfer but AwaitConfirmation still times out,
	// as when the confirmation response is lost on the network.
	OutcomeLost
	// OutcomeUnacknowledged commits the transfer but SubmitAtomicTransfer
	// returns gateway.ErrSubmitOutcomeUnknown, as when the connection drops
	// after the ledger accepted the request.
	OutcomeUnacknowledged
)

// Transfer is a transfer as recorded by the stub ledger.
type Transfer struct {
	Request    gateway.TransferRequest
	Handle     gateway.PendingHandle
	Status     gateway.ConfirmationStatus
	Reference  string
	Reason     string
	hideStatus bool // OutcomeLost: committed but not observable via AwaitConfirmation
}

// Gateway implements gateway.Gateway in memory.
type Gateway struct {
	mu sync.Mutex

	// NonAtomic makes Capabilities report no atomic multi-leg support.
	NonAtomic bool

	// SubmitErr, if set, is consulted before accepting a transfer. Errors
	// wrapping gateway.ErrSubmitOutcomeUnknown are returned as is; anything
	// else is a refusal.
	SubmitErr func(req gateway.TransferRequest) error

	// Decide, if set, picks the outcome of an accepted transfer.
	Decide func(req gateway.TransferRequest) Outcome

	// PublishErr, if set, fails metadata publication for the key.
	PublishErr func(key string) error

	transfers map[string]*Transfer // keyed by idempotency key
	byHandle  map[gateway.PendingHandle]*Transfer
	metadata  map[string]map[string]string
	history   []MetadataWrite
	frozen    map[string]bool
	submits   int
	seq       int
}

// MetadataWrite records one PublishMetadataField call.
type MetadataWrite struct {
	Fund  string
	Key   string
	Value string
}

// Compile-time interface check.
var _ gateway.Gateway = (*Gateway)(nil)

// New creates an empty stub ledger.
func New() *Gateway {
	return &Gateway{
		transfers: make(map[string]*Transfer),
		byHandle:  make(map[gateway.PendingHandle]*Transfer),
		metadata:  make(map[string]map[string]string),
		frozen:    make(map[string]bool),
	}
}

// Capabilities reports atomic multi-leg support unless NonAtomic is set.
func (g *Gateway) Capabilities(_ context.Context) (gateway.Capabilities, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gateway.Capabilities{AtomicMultiLeg: !g.NonAtomic}, nil
}

// SubmitAtomicTransfer records the transfer and resolves it per Decide.
func (g *Gateway) SubmitAtomicTransfer(_ context.Context, req gateway.TransferRequest) (gateway.PendingHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.submits++

	if g.SubmitErr != nil {
		if err := g.SubmitErr(req); err != nil {
			if errors.Is(err, gateway.ErrSubmitOutcomeUnknown) {
				return "", err
			}
			return "", fmt.Errorf("%w: %v", domain.ErrLedgerSubmission, err)
		}
	}
	if len(req.Legs) == 0 {
		return "", fmt.Errorf("%w: transfer has no legs", domain.ErrLedgerSubmission)
	}
	for _, l := range req.Legs {
		if g.frozen[l.From] || g.frozen[l.To] {
			return "", fmt.Errorf("%w: %v", domain.ErrLedgerSubmission, ErrFrozen)
		}
	}
	if existing, ok := g.transfers[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		// the ledger deduplicates on the key
		return existing.Handle, nil
	}

	g.seq++
	tr := &Transfer{
		Request: req,
		Handle:  gateway.PendingHandle(fmt.Sprintf("h-%d", g.seq)),
		Status:  gateway.StatusPending,
	}

	outcome := OutcomeConfirm
	if g.Decide != nil {
		outcome = g.Decide(req)
	}
	switch outcome {
	case OutcomeConfirm:
		tr.Status = gateway.StatusConfirmed
		tr.Reference = reference(req.IdempotencyKey, g.seq)
	case OutcomeFail:
		tr.Status = gateway.StatusFailed
		tr.Reason = "rejected by ledger"
	case OutcomeLost:
		tr.Status = gateway.StatusConfirmed
		tr.Reference = reference(req.IdempotencyKey, g.seq)
		tr.hideStatus = true
	case OutcomeUnacknowledged:
		tr.Status = gateway.StatusConfirmed
		tr.Reference = reference(req.IdempotencyKey, g.seq)
	}

	g.transfers[req.IdempotencyKey] = tr
	g.byHandle[tr.Handle] = tr
	if outcome == OutcomeUnacknowledged {
		return "", fmt.Errorf("%w: connection reset after send", gateway.ErrSubmitOutcomeUnknown)
	}
	return tr.Handle, nil
}

// AwaitConfirmation returns the recorded outcome, or StatusTimeout for
// transfers that are pending or whose confirmation is lost.
func (g *Gateway) AwaitConfirmation(ctx context.Context, handle gateway.PendingHandle, _ time.Duration) (gateway.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Confirmation{Status: gateway.StatusTimeout, Handle: handle}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tr, ok := g.byHandle[handle]
	if !ok {
		return gateway.Confirmation{}, fmt.Errorf("unknown handle %s", handle)
	}
	if tr.hideStatus || !tr.Status.IsFinal() {
		return gateway.Confirmation{Status: gateway.StatusTimeout, Handle: handle}, nil
	}
	return tr.confirmation(), nil
}

// FindTransfer looks up a transfer by idempotency key.
func (g *Gateway) FindTransfer(_ context.Context, idempotencyKey string) (*gateway.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tr, ok := g.transfers[idempotencyKey]
	if !ok {
		return nil, nil
	}
	c := tr.confirmation()
	return &c, nil
}

func (t *Transfer) confirmation() gateway.Confirmation {
	return gateway.Confirmation{
		Status:    t.Status,
		Handle:    t.Handle,
		Reference: t.Reference,
		Reason:    t.Reason,
		Legs:      append([]gateway.Leg(nil), t.Request.Legs...),
	}
}

// PublishMetadataField stores key=value for the fund.
func (g *Gateway) PublishMetadataField(_ context.Context, fund, key, value string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.PublishErr != nil {
		if err := g.PublishErr(key); err != nil {
			return "", err
		}
	}
	if g.metadata[fund] == nil {
		g.metadata[fund] = make(map[string]string)
	}
	g.metadata[fund][key] = value
	g.history = append(g.history, MetadataWrite{Fund: fund, Key: key, Value: value})
	g.seq++
	return reference(fund+"|"+key, g.seq), nil
}

// Freeze marks an account frozen.
func (g *Gateway) Freeze(_ context.Context, account string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frozen[account] = true
	return nil
}

// Thaw clears a freeze.
func (g *Gateway) Thaw(_ context.Context, account string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.frozen, account)
	return nil
}

// Land confirms a transfer left pending by OutcomeTimeout or makes a lost
// confirmation observable.
func (g *Gateway) Land(idempotencyKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tr, ok := g.transfers[idempotencyKey]
	if !ok {
		return
	}
	g.seq++
	if tr.Reference == "" {
		tr.Reference = reference(idempotencyKey, g.seq)
	}
	tr.Status = gateway.StatusConfirmed
	tr.hideStatus = false
}

// Reject fails a transfer left pending by OutcomeTimeout.
func (g *Gateway) Reject(idempotencyKey, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tr, ok := g.transfers[idempotencyKey]; ok {
		tr.Status = gateway.StatusFailed
		tr.Reason = reason
		tr.hideStatus = false
	}
}

// Transfers returns every recorded transfer.
func (g *Gateway) Transfers() []Transfer {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Transfer, 0, len(g.transfers))
	for _, tr := range g.transfers {
		out = append(out, *tr)
	}
	return out
}

// Submits returns the number of SubmitAtomicTransfer calls.
func (g *Gateway) Submits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits
}

// Metadata returns the current value of a fund field.
func (g *Gateway) Metadata(fund, key string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.metadata[fund][key]
	return v, ok
}

// MetadataHistory returns all metadata writes in call order.
func (g *Gateway) MetadataHistory() []MetadataWrite {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]MetadataWrite(nil), g.history...)
}

// IsFrozen reports whether an account is frozen.
func (g *Gateway) IsFrozen(account string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frozen[account]
}

// reference derives a base58 transaction reference.
func reference(seed string, seq int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", seed, seq)))
	return base58.Encode(h[:])
}
