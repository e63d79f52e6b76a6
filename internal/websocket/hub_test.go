package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	client := &Client{send: make(chan []byte, 1)}
	hub.Register("1234-567-000001", client)
	if got := hub.Subscribers("1234-567-000001"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
	hub.BroadcastBalance("1234-567-000001", BalanceUpdate{AccountNumber: "1234-567-000001", Balance: "10.00"})
	select {
	case payload := <-client.send:
		var update BalanceUpdate
		if err := json.Unmarshal(payload, &update); err != nil || update.Balance != "10.00" {
			t.Fatalf("unexpected payload %s (%v)", payload, err)
		}
	default:
		t.Fatal("expected a queued update")
	}
	hub.Unregister("1234-567-000001", client)
	if got := hub.Subscribers("1234-567-000001"); got != 0 {
		t.Fatalf("expected no subscribers, got %d", got)
	}
}

func TestHubBroadcastSkipsFullClients(t *testing.T) {
	hub := NewHub()
	client := &Client{send: make(chan []byte)}
	hub.Register("n", client)
	done := make(chan struct{})
	go func() {
		hub.BroadcastBalance("n", BalanceUpdate{Balance: "1.00"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestServeWSStreamsUpdates(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, hub, BalanceUpdate{AccountNumber: "1234-567-000001", Balance: "40.00"})
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("1234-567-000001") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot BalanceUpdate
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Kind != SnapshotKind || snapshot.Balance != "40.00" {
		t.Fatalf("expected the opening snapshot, got %#v", snapshot)
	}

	hub.BroadcastBalance("1234-567-000001", BalanceUpdate{AccountNumber: "1234-567-000001", Balance: "42.00", Kind: "DEPOSIT", Amount: "2.00"})
	var update BalanceUpdate
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read: %v", err)
	}
	if update.Balance != "42.00" || update.Kind != "DEPOSIT" {
		t.Fatalf("unexpected update: %#v", update)
	}
}

func TestCloseAccountEndsStreams(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, hub, BalanceUpdate{AccountNumber: "1234-567-000002", Balance: "0.00"})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot BalanceUpdate
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	hub.CloseAccount("1234-567-000002")
	if hub.Subscribers("1234-567-000002") != 0 {
		t.Fatal("expected subscribers to be dropped")
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
		t.Fatalf("expected a close frame, got %v", err)
	}
	// a second close of the same account is a no-op
	hub.CloseAccount("1234-567-000002")
}
