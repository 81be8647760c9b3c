package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/AlchemyMachine/internal/events"
)

// clearTLSEnv keeps a previous test's certificate paths out of the server.
func clearTLSEnv(t *testing.T) {
	t.Setenv("ALCHEMY_TLS_CERT", "")
	t.Setenv("ALCHEMY_TLS_KEY", "")
	SetTLSConfigForTest(nil)
}

func dialEvents(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

func TestWebSocketReceivesRecentEvents(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	// Emit some events before connecting
	for i := 0; i < 5; i++ {
		events.Emit("info", "puzzle.state_changed", "", map[string]interface{}{"i": i})
	}

	// Create test server
	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	// Convert http:// to ws://
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	// Connect
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Should receive the recent events
	received := 0
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for received < 5 {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read message: %v", err)
		}
		var e events.Event
		if err := json.Unmarshal(msg, &e); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if e.Name != "puzzle.state_changed" {
			t.Errorf("expected 'puzzle.state_changed', got '%s'", e.Name)
		}
		received++
	}

	if received != 5 {
		t.Errorf("expected 5 recent events, got %d", received)
	}
}

func TestWebSocketReceivesNewEvents(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	// Create test server
	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Emit a new event after connection
	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", "puzzle.solved", "", map[string]interface{}{"source": "remote"})
	}()

	// Should receive the new event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read new event: %v", err)
	}

	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if e.Name != "puzzle.solved" {
		t.Errorf("expected 'puzzle.solved', got '%s'", e.Name)
	}
	if e.Fields["source"] != "remote" {
		t.Errorf("expected source 'remote', got '%v'", e.Fields["source"])
	}
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	// Ensure clean starting state
	events.CloseAllSubscribers()

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	// Verify connection works by emitting an event and receiving it
	go func() {
		time.Sleep(20 * time.Millisecond)
		events.Emit("info", "puzzle.state_changed", "", map[string]interface{}{"test": "cleanup"})
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read test event: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if e.Name != "puzzle.state_changed" {
		t.Errorf("expected 'puzzle.state_changed', got '%s'", e.Name)
	}

	// Now we know connection is working - subscriber exists
	// Close connection
	conn.Close()

	// Emit events to trigger the subscriber goroutine to notice the close
	for i := 0; i < 5; i++ {
		events.Emit("info", "puzzle.state_changed", "", nil)
		time.Sleep(50 * time.Millisecond)
	}

	// Wait for cleanup - subscriber count should return to 0
	waitFor(t, 5*time.Second, func() bool {
		return events.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestWebSocketMultipleClients(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	// Connect two clients
	conn1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client1 failed to connect: %v", err)
	}
	defer conn1.Close()

	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client2 failed to connect: %v", err)
	}
	defer conn2.Close()

	// Emit an event
	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", "puzzle.game_over", "", nil)
	}()

	// Both should receive
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg1, err := conn1.ReadMessage()
	if err != nil {
		t.Fatalf("client1 failed to read: %v", err)
	}

	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg2, err := conn2.ReadMessage()
	if err != nil {
		t.Fatalf("client2 failed to read: %v", err)
	}

	var e1, e2 events.Event
	json.Unmarshal(msg1, &e1)
	json.Unmarshal(msg2, &e2)

	if e1.Name != "puzzle.game_over" {
		t.Errorf("client1: expected 'puzzle.game_over', got '%s'", e1.Name)
	}
	if e2.Name != "puzzle.game_over" {
		t.Errorf("client2: expected 'puzzle.game_over', got '%s'", e2.Name)
	}
}

func TestWebSocketSkipsDebugByDefault(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	events.Emit("debug", "device.input", "", map[string]interface{}{"logical_id": "beam"})
	events.Emit("info", "puzzle.reset", "", nil)

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	conn := dialEvents(t, server, "")
	defer conn.Close()

	if e := readEvent(t, conn); e.Name != "puzzle.reset" {
		t.Errorf("first event = %q, want puzzle.reset (debug filtered)", e.Name)
	}
}

func TestWebSocketDebugAndRecentQuery(t *testing.T) {
	clearTLSEnv(t)
	events.Clear()

	events.Emit("info", "puzzle.reset", "", nil)
	events.Emit("debug", "device.input", "", map[string]interface{}{"logical_id": "beam"})

	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	defer server.Close()

	conn := dialEvents(t, server, "?debug=1&recent=1")
	defer conn.Close()

	if e := readEvent(t, conn); e.Name != "device.input" {
		t.Errorf("replayed %q, want only the newest event", e.Name)
	}
}

func TestParseStreamQuery(t *testing.T) {
	tests := []struct {
		query      string
		wantDebug  bool
		wantRecent int
	}{
		{"", false, recentEventsCount},
		{"?debug=true", true, recentEventsCount},
		{"?recent=0", false, 0},
		{"?recent=-3", false, recentEventsCount},
		{"?recent=9999", false, maxRecentEvents},
		{"?recent=abc&debug=1", true, recentEventsCount},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws/events"+tt.query, nil)
		f, n := parseStreamQuery(r)
		if f.debug != tt.wantDebug || n != tt.wantRecent {
			t.Errorf("%q: debug=%v recent=%d, want %v %d", tt.query, f.debug, n, tt.wantDebug, tt.wantRecent)
		}
	}
}
