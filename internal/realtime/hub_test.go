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
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true, EventTypes: []EventType{EventOrderCreated}}}

	event := &Event{Type: EventDispatchFailed, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventDispatchFailed, EventDispatchRetry},
	}}

	if !h.shouldSend(client, &Event{Type: EventDispatchFailed}) {
		t.Error("Should receive dispatch_failed events")
	}
	if !h.shouldSend(client, &Event{Type: EventDispatchRetry}) {
		t.Error("Should receive dispatch_retry events")
	}
	if h.shouldSend(client, &Event{Type: EventOrderCreated}) {
		t.Error("Should NOT receive order_created events")
	}
}

func TestShouldSend_WalletFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{WalletIDs: []string{"wlt_a"}}}

	matching := &Event{Type: EventDispatchCompleted, Data: map[string]any{"walletId": "wlt_a"}}
	other := &Event{Type: EventDispatchCompleted, Data: map[string]any{"walletId": "wlt_b"}}
	noWallet := &Event{Type: EventOrderCreated, Data: map[string]any{"orderId": "po_1"}}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on walletId")
	}
	if h.shouldSend(client, other) {
		t.Error("Should NOT match other wallets")
	}
	if h.shouldSend(client, noWallet) {
		t.Error("Events without a wallet do not match a wallet filter")
	}
}

func TestShouldSend_PayTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventDispatchFailed},
		PayTypes:   []string{"USDT"},
	}}

	usdt := &Event{Type: EventDispatchFailed, Data: map[string]any{"payType": "USDT"}}
	trx := &Event{Type: EventDispatchFailed, Data: map[string]any{"payType": "TRX"}}

	if !h.shouldSend(client, usdt) {
		t.Error("Should receive USDT failures")
	}
	if h.shouldSend(client, trx) {
		t.Error("Should NOT receive TRX failures")
	}

	lower := &Event{Type: EventDispatchFailed, Data: map[string]any{"payType": "usdt"}}
	if !h.shouldSend(client, lower) {
		t.Error("Pay type filter should ignore case")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, &Event{Type: EventOrderPayment}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_PublishAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Publish(string(EventOrderCreated), map[string]any{"orderId": "po_1"})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventDispatchFailed}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Publish(string(EventDispatchCompleted), map[string]any{"orderId": "po_1"})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive dispatch_completed")
	default:
	}

	h.Publish(string(EventDispatchFailed), map[string]any{"orderId": "po_2", "reason": "retries_exhausted"})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != EventDispatchFailed || ev.Data["orderId"] != "po_2" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Client should receive dispatch_failed")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketStream(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(Subscription{WalletIDs: []string{"wlt_a"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.Publish(string(EventDispatchCompleted), map[string]any{"walletId": "wlt_b"})
	h.Publish(string(EventDispatchCompleted), map[string]any{"walletId": "wlt_a", "txRef": "abc"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Data["walletId"] != "wlt_a" {
		t.Errorf("expected the wlt_a event first, got %+v", ev.Data)
	}
}
