package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultBackoffMult  = 2.0
	DefaultPollInterval = 2 * time.Second
)

// HTTPClient implements Gateway over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint     string
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
	maxDelay     time.Duration
	backoffMult  float64
	pollInterval time.Duration
	watcher      *WSConfirmer
	requestID    atomic.Uint64
}

// Compile-time interface check.
var _ Gateway = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithPollInterval sets how often AwaitConfirmation polls transfer status.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.pollInterval = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithConfirmationWatcher lets AwaitConfirmation react to pushed status
// notifications in addition to polling.
func WithConfirmationWatcher(w *WSConfirmer) ClientOption {
	return func(c *HTTPClient) {
		c.watcher = w
	}
}

// NewHTTPClient creates a new ledger RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		maxDelay:     DefaultMaxDelay,
		backoffMult:  DefaultBackoffMult,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error returned by the ledger.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Retries reuse the request body, so a retried submit carries the same
// idempotency key.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Capabilities queries the ledger's transfer guarantees.
func (c *HTTPClient) Capabilities(ctx context.Context) (Capabilities, error) {
	var result getCapabilitiesResult
	if err := c.call(ctx, "getCapabilities", nil, &result); err != nil {
		return Capabilities{}, err
	}
	return Capabilities{AtomicMultiLeg: result.AtomicMultiLeg}, nil
}

type getCapabilitiesResult struct {
	AtomicMultiLeg bool `json:"atomicMultiLeg"`
}

// SubmitAtomicTransfer submits all legs as one ledger transaction.
// A JSON-RPC error is a refusal and is reported as domain.ErrLedgerSubmission.
// Any other failure happened after the request may have been sent and is
// reported as ErrSubmitOutcomeUnknown.
func (c *HTTPClient) SubmitAtomicTransfer(ctx context.Context, req TransferRequest) (PendingHandle, error) {
	if len(req.Legs) == 0 {
		return "", fmt.Errorf("%w: transfer has no legs", domain.ErrLedgerSubmission)
	}

	legs := make([]wireLeg, len(req.Legs))
	for i, l := range req.Legs {
		legs[i] = wireLeg{
			From:   l.From,
			To:     l.To,
			Asset:  string(l.Asset),
			Amount: domain.ToBaseUnits(l.Amount),
		}
	}
	params := []interface{}{
		submitTransferParams{
			IdempotencyKey: req.IdempotencyKey,
			Legs:           legs,
		},
	}

	var result submitTransferResult
	if err := c.call(ctx, "submitAtomicTransfer", params, &result); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %v", domain.ErrLedgerSubmission, err)
		}
		return "", fmt.Errorf("%w: %v", ErrSubmitOutcomeUnknown, err)
	}
	if result.Handle == "" {
		// accepted, but nothing to await
		return "", fmt.Errorf("%w: empty handle", ErrSubmitOutcomeUnknown)
	}
	return PendingHandle(result.Handle), nil
}

// wireLeg carries amounts as integer base-unit strings.
type wireLeg struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type submitTransferParams struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	Legs           []wireLeg `json:"legs"`
}

type submitTransferResult struct {
	Handle string `json:"handle"`
}

// AwaitConfirmation polls getTransferStatus, and listens to the watcher if
// one is configured, until the transfer is final or timeout elapses.
func (c *HTTPClient) AwaitConfirmation(ctx context.Context, handle PendingHandle, timeout time.Duration) (Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var pushed <-chan Confirmation
	if c.watcher != nil {
		ch, err := c.watcher.Watch(waitCtx, handle)
		if err == nil {
			pushed = ch
			defer c.watcher.Unwatch(handle)
		}
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.getTransferStatus(waitCtx, handle)
		if err == nil && status.Status.IsFinal() {
			return status, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return Confirmation{Status: StatusTimeout, Handle: handle}, ctx.Err()
			}
			return Confirmation{Status: StatusTimeout, Handle: handle}, nil
		case conf, ok := <-pushed:
			if ok && conf.Status.IsFinal() {
				return conf, nil
			}
			if !ok {
				pushed = nil
			}
		case <-ticker.C:
		}
	}
}

// getTransferStatus fetches the current status of a submitted transfer.
func (c *HTTPClient) getTransferStatus(ctx context.Context, handle PendingHandle) (Confirmation, error) {
	var result transferStatusResult
	if err := c.call(ctx, "getTransferStatus", []interface{}{string(handle)}, &result); err != nil {
		return Confirmation{}, err
	}
	return result.toConfirmation(handle), nil
}

type transferStatusResult struct {
	Handle    string    `json:"handle"`
	Status    string    `json:"status"`
	Reference string    `json:"reference"`
	Reason    string    `json:"reason"`
	Legs      []wireLeg `json:"legs,omitempty"`
}

func (r transferStatusResult) toConfirmation(fallback PendingHandle) Confirmation {
	conf := Confirmation{
		Status:    parseStatus(r.Status),
		Handle:    PendingHandle(r.Handle),
		Reference: r.Reference,
		Reason:    r.Reason,
	}
	if conf.Handle == "" {
		conf.Handle = fallback
	}
	return conf
}

func parseStatus(s string) ConfirmationStatus {
	switch strings.ToLower(s) {
	case "confirmed", "finalized":
		return StatusConfirmed
	case "failed":
		return StatusFailed
	}
	return StatusPending
}

// FindTransfer looks up a transfer by idempotency key.
func (c *HTTPClient) FindTransfer(ctx context.Context, idempotencyKey string) (*Confirmation, error) {
	var result *transferStatusResult
	if err := c.call(ctx, "findTransfer", []interface{}{idempotencyKey}, &result); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == codeTransferNotFound {
			return nil, nil
		}
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	conf := result.toConfirmation("")
	if len(result.Legs) > 0 {
		conf.Legs = make([]Leg, len(result.Legs))
		for i, l := range result.Legs {
			amount, err := domain.FromBaseUnits(l.Amount)
			if err != nil {
				return nil, fmt.Errorf("transfer %s leg %d amount %q: %w", idempotencyKey, i, l.Amount, err)
			}
			conf.Legs[i] = Leg{From: l.From, To: l.To, Asset: AssetKind(l.Asset), Amount: amount}
		}
	}
	return &conf, nil
}

// codeTransferNotFound is returned by findTransfer for unknown keys.
const codeTransferNotFound = -32004

// PublishMetadataField writes key=value on the fund.
func (c *HTTPClient) PublishMetadataField(ctx context.Context, fund, key, value string) (string, error) {
	var result referenceResult
	if err := c.call(ctx, "setMetadataField", []interface{}{fund, key, value}, &result); err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	return result.Reference, nil
}

type referenceResult struct {
	Reference string `json:"reference"`
}

// Freeze blocks an account from sending or receiving fund assets.
func (c *HTTPClient) Freeze(ctx context.Context, account string) error {
	if err := c.call(ctx, "freezeAccount", []interface{}{account}, nil); err != nil {
		return fmt.Errorf("freeze %s: %w", account, err)
	}
	return nil
}

// Thaw lifts a freeze.
func (c *HTTPClient) Thaw(ctx context.Context, account string) error {
	if err := c.call(ctx, "thawAccount", []interface{}{account}, nil); err != nil {
		return fmt.Errorf("thaw %s: %w", account, err)
	}
	return nil
}
