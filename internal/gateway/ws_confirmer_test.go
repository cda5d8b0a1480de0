package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// ledgerWS answers transferSubscribe and, after notifyAfter, pushes the
// given status for the subscribed handle.
func ledgerWS(t *testing.T, status string, notifyAfter time.Duration) *httptest.Server {
	t.Helper()
	var nextSub atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal request: %v", err)
				return
			}
			if req.Method != "transferSubscribe" {
				continue
			}

			subID := 100 + nextSub.Add(1)
			if err := c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: subID}); err != nil {
				return
			}

			time.Sleep(notifyAfter)
			notif := wsNotification{
				JSONRPC: "2.0",
				Method:  "transferNotification",
				Params: &wsNotificationParams{
					Subscription: subID,
					Result: transferStatusResult{
						Handle:    req.Params[0].(string),
						Status:    status,
						Reference: "ws-ref",
					},
				},
			}
			if err := c.WriteJSON(notif); err != nil {
				return
			}
		}
	}))
}

func TestWSConfirmer_Watch(t *testing.T) {
	server := ledgerWS(t, "confirmed", 20*time.Millisecond)
	defer server.Close()

	ctx := context.Background()
	c, err := NewWSConfirmer(ctx, wsURL(server), nil, nil)
	require.NoError(t, err)
	defer c.Close()

	ch, err := c.Watch(ctx, "h-1")
	require.NoError(t, err)

	select {
	case conf := <-ch:
		assert.Equal(t, StatusConfirmed, conf.Status)
		assert.Equal(t, PendingHandle("h-1"), conf.Handle)
		assert.Equal(t, "ws-ref", conf.Reference)
	case <-time.After(2 * time.Second):
		t.Fatal("no confirmation pushed")
	}

	c.Unwatch("h-1")
	_, open := <-ch
	assert.False(t, open, "Unwatch closes the channel")
}

func TestWSConfirmer_IgnoresNonFinal(t *testing.T) {
	server := ledgerWS(t, "processed", 0)
	defer server.Close()

	ctx := context.Background()
	c, err := NewWSConfirmer(ctx, wsURL(server), nil, nil)
	require.NoError(t, err)
	defer c.Close()

	ch, err := c.Watch(ctx, "h-1")
	require.NoError(t, err)

	select {
	case conf := <-ch:
		t.Fatalf("unexpected delivery %+v", conf)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSConfirmer_SubscribeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// never answer
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.SubscribeTimeout = 50 * time.Millisecond

	c, err := NewWSConfirmer(context.Background(), wsURL(server), &cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Watch(context.Background(), "h-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscription timeout")
}

func TestWSConfirmer_WatchAfterClose(t *testing.T) {
	server := ledgerWS(t, "confirmed", 0)
	defer server.Close()

	c, err := NewWSConfirmer(context.Background(), wsURL(server), nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second Close is a no-op")

	_, err = c.Watch(context.Background(), "h-1")
	assert.Error(t, err)
}

func TestHTTPClient_AwaitConfirmation_PushedByWatcher(t *testing.T) {
	ws := ledgerWS(t, "confirmed", 20*time.Millisecond)
	defer ws.Close()

	// HTTP status always pending; only the push can resolve it
	rpc := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		return map[string]string{"status": "pending"}, nil
	})
	defer rpc.Close()

	ctx := context.Background()
	watcher, err := NewWSConfirmer(ctx, wsURL(ws), nil, nil)
	require.NoError(t, err)
	defer watcher.Close()

	client := NewHTTPClient(rpc.URL, WithPollInterval(time.Hour), WithConfirmationWatcher(watcher))
	conf, err := client.AwaitConfirmation(ctx, "h-5", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, conf.Status)
	assert.Equal(t, PendingHandle("h-5"), conf.Handle)
}
