package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub, cancel
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// The handler registers with the hub after the handshake completes.
	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"].(int) == 1
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var e Event
	require.NoError(t, json.Unmarshal(msg, &e))
	return &e
}

func TestHub_DeliversBroadcastToClient(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)

	hub.Emit("RISK_UPDATED", map[string]interface{}{
		"identityId": "did:test:root",
		"riskLevel":  "HIGH",
	})

	e := readEvent(t, conn)
	assert.Equal(t, "RISK_UPDATED", e.Type)
	assert.Equal(t, "did:test:root", e.Data["identityId"])
	assert.False(t, e.Timestamp.IsZero())
}

func TestHub_SubscriptionNarrowsDelivery(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)

	sub := Subscription{EventTypes: []string{"WALLET_OPERATION"}}
	require.NoError(t, conn.WriteJSON(sub))

	// Give readPump a moment to apply the subscription before broadcasting.
	time.Sleep(100 * time.Millisecond)

	hub.Emit("RISK_UPDATED", map[string]interface{}{"identityId": "did:test:root"})
	hub.Emit("WALLET_OPERATION", map[string]interface{}{"identityId": "did:test:root"})

	// Only the subscribed type arrives.
	e := readEvent(t, conn)
	assert.Equal(t, "WALLET_OPERATION", e.Type)
}

func TestHub_StatsCountEventsAndClients(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)

	hub.Emit("PLUGIN_ACTIVATED", map[string]interface{}{"pluginId": "p1"})
	readEvent(t, conn)

	stats := hub.Stats()
	assert.Equal(t, 1, stats["connectedClients"])
	assert.Equal(t, int64(1), stats["totalClients"])
	assert.GreaterOrEqual(t, stats["totalEvents"].(int64), int64(1))
	assert.Equal(t, int64(1), stats["peakClients"])
}

func TestHub_RejectsUpgradeAfterShutdown(t *testing.T) {
	hub, cancel := newTestHub(t)
	cancel()
	<-hub.done

	w := httptest.NewRecorder()
	hub.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestShouldSend_Filters(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	event := &Event{
		Type: "WALLET_OPERATION",
		Data: map[string]interface{}{"identityId": "did:test:a", "pluginId": "p1"},
	}

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, true},
		{"matching type", Subscription{EventTypes: []string{"WALLET_OPERATION"}}, true},
		{"other type", Subscription{EventTypes: []string{"RISK_UPDATED"}}, false},
		{"matching identity", Subscription{IdentityIDs: []string{"did:test:a"}}, true},
		{"other identity", Subscription{IdentityIDs: []string{"did:test:b"}}, false},
		{"matching plugin", Subscription{PluginIDs: []string{"p1"}}, true},
		{"other plugin", Subscription{PluginIDs: []string{"p2"}}, false},
		{"type and identity must both match", Subscription{
			EventTypes:  []string{"WALLET_OPERATION"},
			IdentityIDs: []string{"did:test:b"},
		}, false},
		{"empty narrows nothing", Subscription{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{sub: tt.sub}
			assert.Equal(t, tt.want, hub.shouldSend(client, event))
		})
	}
}
