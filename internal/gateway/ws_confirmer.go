package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig configures WSConfirmer behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  10 * time.Second,
	}
}

// WSConfirmer receives pushed transfer status notifications over a
// WebSocket. One subscription is held per watched handle.
type WSConfirmer struct {
	endpoint string
	config   WSConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// watches maps handle to its delivery channel and current subscription id
	watches   map[PendingHandle]*watch
	bySubID   map[int64]PendingHandle
	watchesMu sync.Mutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

type watch struct {
	ch    chan Confirmation
	subID int64
}

// NewWSConfirmer connects to the ledger's WebSocket endpoint.
func NewWSConfirmer(ctx context.Context, endpoint string, config *WSConfig, logger *zap.Logger) (*WSConfirmer, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSConfirmer{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.Named("ws"),
		watches:     make(map[PendingHandle]*watch),
		bySubID:     make(map[int64]PendingHandle),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSConfirmer) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Watch subscribes to status changes of a transfer. The channel receives
// at most one final Confirmation and is closed by Unwatch or Close.
func (c *WSConfirmer) Watch(ctx context.Context, handle PendingHandle) (<-chan Confirmation, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("confirmer closed")
	}

	subID, err := c.subscribe(ctx, handle)
	if err != nil {
		return nil, err
	}

	w := &watch{ch: make(chan Confirmation, 1), subID: subID}
	c.watchesMu.Lock()
	if old, ok := c.watches[handle]; ok {
		delete(c.bySubID, old.subID)
		close(old.ch)
	}
	c.watches[handle] = w
	c.bySubID[subID] = handle
	c.watchesMu.Unlock()

	return w.ch, nil
}

// Unwatch drops the subscription of a handle.
func (c *WSConfirmer) Unwatch(handle PendingHandle) {
	c.watchesMu.Lock()
	w, ok := c.watches[handle]
	if ok {
		delete(c.watches, handle)
		delete(c.bySubID, w.subID)
		close(w.ch)
	}
	c.watchesMu.Unlock()

	if !ok {
		return
	}
	c.send(wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "transferUnsubscribe",
		Params:  []interface{}{w.subID},
	})
}

// subscribe sends transferSubscribe and waits for the subscription id.
func (c *WSConfirmer) subscribe(ctx context.Context, handle PendingHandle) (int64, error) {
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "transferSubscribe",
		Params:  []interface{}{string(handle)},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if err := c.send(req); err != nil {
		dropPending()
		return 0, err
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, fmt.Errorf("confirmer closed")
		}
		return subID, nil
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return 0, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, fmt.Errorf("confirmer closed")
	case <-ctx.Done():
		dropPending()
		return 0, ctx.Err()
	}
}

func (c *WSConfirmer) send(req wsRequest) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

// Close closes the WebSocket connection and all watch channels.
func (c *WSConfirmer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.watchesMu.Lock()
	for h, w := range c.watches {
		close(w.ch)
		delete(c.watches, h)
	}
	c.bySubID = make(map[int64]PendingHandle)
	c.watchesMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages and dispatches them until Close.
func (c *WSConfirmer) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn("websocket read failed, reconnecting", zap.Error(err), zap.Duration("delay", reconnectDelay))
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect replaces the connection and re-subscribes every watched handle.
func (c *WSConfirmer) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("websocket reconnect failed", zap.Error(err))
		return
	}

	c.resubscribeAll()
}

func (c *WSConfirmer) resubscribeAll() {
	c.watchesMu.Lock()
	handles := make([]PendingHandle, 0, len(c.watches))
	for h := range c.watches {
		handles = append(handles, h)
	}
	c.watchesMu.Unlock()

	for _, h := range handles {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		newSubID, err := c.subscribe(ctx, h)
		cancel()
		if err != nil {
			// polling in AwaitConfirmation still covers this handle
			c.logger.Warn("resubscribe failed", zap.String("handle", string(h)), zap.Error(err))
			continue
		}

		c.watchesMu.Lock()
		if w, ok := c.watches[h]; ok {
			delete(c.bySubID, w.subID)
			w.subID = newSubID
			c.bySubID[newSubID] = h
		}
		c.watchesMu.Unlock()
	}
}

func (c *WSConfirmer) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID > 0 && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "transferNotification" {
		c.handleTransferNotification(&notif)
		return
	}

	var errResp struct {
		ID    uint64    `json:"id"`
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		// the pending subscription times out on its own
		c.logger.Warn("websocket error response",
			zap.Uint64("request_id", errResp.ID),
			zap.Int("code", errResp.Error.Code),
			zap.String("message", errResp.Error.Message))
	}
}

func (c *WSConfirmer) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

func (c *WSConfirmer) handleTransferNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	conf := notif.Params.Result.toConfirmation("")
	if !conf.Status.IsFinal() {
		return
	}

	c.watchesMu.Lock()
	defer c.watchesMu.Unlock()

	handle, ok := c.bySubID[notif.Params.Subscription]
	if !ok {
		return
	}
	if conf.Handle == "" {
		conf.Handle = handle
	}
	w := c.watches[handle]
	select {
	case w.ch <- conf:
	default:
		// a final status was already delivered
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSConfirmer) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// a dead connection is detected by readLoop
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       transferStatusResult `json:"result"`
}
