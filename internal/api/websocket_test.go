package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pcsc-tools/cardid-agent/internal/core"
)

func TestWSHub_RegisterUnregister(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()
	defer hub.Stop()

	client := &WSClient{send: make(chan []byte, 8), hub: hub}
	hub.register <- client

	// Broadcasts are handled by the same loop, so this one follows the register.
	hub.broadcast <- []byte(`{"type":"status"}`)
	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Fatal("registered client should receive broadcasts")
	}

	hub.send(client, []byte(`{"type":"direct"}`))
	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Fatal("registered client should receive direct sends")
	}

	hub.unregister <- client

	// The hub closes the send channel on unregister.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()
	defer hub.Stop()

	clients := make([]*WSClient, 3)
	for i := range clients {
		clients[i] = &WSClient{send: make(chan []byte, 8), hub: hub}
		hub.register <- clients[i]
	}

	testMsg := []byte(`{"type":"test"}`)
	hub.broadcast <- testMsg

	for i, client := range clients {
		select {
		case msg := <-client.send:
			if string(msg) != string(testMsg) {
				t.Errorf("client %d received wrong message", i)
			}
		case <-time.After(time.Second):
			t.Errorf("client %d did not receive message", i)
		}
	}
}

func TestWSHub_SendToUnknownClientIsDropped(t *testing.T) {
	hub := NewWSHub()
	client := &WSClient{send: make(chan []byte, 1), hub: hub}

	hub.send(client, []byte("x"))

	select {
	case <-client.send:
		t.Error("unregistered client should not receive")
	default:
	}
}

func TestEventMessage(t *testing.T) {
	tests := []struct {
		name      string
		ev        core.Event
		wantType  string
		wantField string
	}{
		{
			name:      "status",
			ev:        core.Event{Type: core.EventStatus, Status: &core.StatusEvent{Reader: "r", Previous: core.PresenceEmpty, Current: core.PresencePresent}},
			wantType:  "status",
			wantField: `"current":"present"`,
		},
		{
			name:      "card",
			ev:        core.Event{Type: core.EventCard, Result: &core.ReadResult{Reader: "r", UID: "01-02-AB"}},
			wantType:  "card",
			wantField: `"uid":"01-02-AB"`,
		},
		{
			name:      "monitor error",
			ev:        core.Event{Type: core.EventMonitorError, State: "stopped", Error: "reader hardware fault"},
			wantType:  "monitor_error",
			wantField: `"state":"stopped"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := eventMessage(tt.ev)
			if err != nil {
				t.Fatalf("eventMessage failed: %v", err)
			}
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("invalid message: %v", err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, msg.Type)
			}
			if !strings.Contains(string(msg.Payload), tt.wantField) {
				t.Errorf("payload %s missing %s", msg.Payload, tt.wantField)
			}
		})
	}
}

func TestWSClient_handleMessage(t *testing.T) {
	tests := []struct {
		name     string
		msgType  string
		wantType string
	}{
		{"start", "start", "state"},
		{"stop", "stop", "state"},
		{"state", "state", "state"},
		{"read", "read", "read"},
		{"list_readers", "list_readers", "readers"},
		{"version", "version", "version"},
		{"unknown", "unknown_type", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeController()
			fake.result = core.ReadResult{UID: "01"}
			useController(t, fake)

			client := &WSClient{send: make(chan []byte, 8)}
			client.handleMessage(WSMessage{Type: tt.msgType, ID: "test-id"})

			select {
			case resp := <-client.send:
				var decoded WSMessage
				if err := json.Unmarshal(resp, &decoded); err != nil {
					t.Fatalf("invalid response: %v", err)
				}
				if decoded.Type != tt.wantType {
					t.Errorf("expected type %q, got %q (%s)", tt.wantType, decoded.Type, decoded.Error)
				}
				if decoded.ID != "test-id" {
					t.Errorf("expected ID 'test-id', got %q", decoded.ID)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for response")
			}
		})
	}
}

func TestWSClient_handleStart_Error(t *testing.T) {
	fake := newFakeController()
	fake.startErr = &core.ReaderNotFoundError{Reader: fake.reader}
	useController(t, fake)

	client := &WSClient{send: make(chan []byte, 8)}
	client.handleStart("s1")

	var decoded WSMessage
	_ = json.Unmarshal(<-client.send, &decoded)
	if decoded.Type != "error" || !strings.Contains(decoded.Error, "not found") {
		t.Errorf("expected reader not found error, got %+v", decoded)
	}
}

func TestWSClient_NoController(t *testing.T) {
	useController(t, nil)

	client := &WSClient{send: make(chan []byte, 8)}
	client.handleMessage(WSMessage{Type: "read", ID: "r"})

	var decoded WSMessage
	_ = json.Unmarshal(<-client.send, &decoded)
	if decoded.Type != "error" {
		t.Errorf("expected error, got %q", decoded.Type)
	}
}

// dialHub starts the websocket endpoint against fake and returns a
// connection that has already consumed the welcome frame.
func dialHub(t *testing.T, fake *fakeController) *websocket.Conn {
	t.Helper()
	useController(t, fake)

	handler := InitWebSocket()
	t.Cleanup(func() { wsHub.Stop() })

	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	var welcome WSMessage
	if err := ws.ReadJSON(&welcome); err != nil {
		t.Fatalf("failed to read welcome: %v", err)
	}
	if welcome.Type != "welcome" {
		t.Fatalf("expected welcome first, got %q", welcome.Type)
	}
	var hello map[string]string
	_ = json.Unmarshal(welcome.Payload, &hello)
	if hello["clientId"] == "" {
		t.Error("welcome should carry a client ID")
	}
	return ws
}

func TestWebSocket_StateRequest(t *testing.T) {
	ws := dialHub(t, newFakeController())

	if err := ws.WriteJSON(WSMessage{Type: "state", ID: "q1"}); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Type != "state" || resp.ID != "q1" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWebSocket_PushesAgentEvents(t *testing.T) {
	fake := newFakeController()
	ws := dialHub(t, fake)

	// Registration happens right after the welcome frame is queued.
	waitRegistered(t)

	fake.events <- core.Event{Type: core.EventCard, Result: &core.ReadResult{Reader: fake.reader, UID: "04-A2-2B-1C"}}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if resp.Type != "card" || !strings.Contains(string(resp.Payload), "04-A2-2B-1C") {
		t.Errorf("unexpected event %+v", resp)
	}
}

func TestWebSocket_InvalidJSON(t *testing.T) {
	ws := dialHub(t, newFakeController())
	waitRegistered(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Type != "error" || resp.Error != "invalid message format" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWebSocket_ConcurrentClients(t *testing.T) {
	useController(t, newFakeController())
	handler := InitWebSocket()
	defer wsHub.Stop()

	server := httptest.NewServer(http.HandlerFunc(handler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	numClients := 5
	var wg sync.WaitGroup
	wg.Add(numClients)

	errs := make(chan string, numClients)

	for i := 0; i < numClients; i++ {
		go func() {
			defer wg.Done()

			ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				errs <- err.Error()
				return
			}
			defer ws.Close()

			var welcome WSMessage
			if err := ws.ReadJSON(&welcome); err != nil {
				errs <- err.Error()
				return
			}

			if err := ws.WriteJSON(WSMessage{Type: "version", ID: "concurrent"}); err != nil {
				errs <- err.Error()
				return
			}

			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				errs <- err.Error()
				return
			}
			if resp.Type != "version" {
				errs <- "unexpected type " + resp.Type
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent client error: %s", err)
	}
}

// waitRegistered blocks until the current hub has at least one client.
func waitRegistered(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		wsHub.mu.RLock()
		n := len(wsHub.clients)
		wsHub.mu.RUnlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for client registration")
}

func BenchmarkWSMessage_Marshal(b *testing.B) {
	msg := WSMessage{
		Type:    "card",
		Payload: json.RawMessage(`{"uid":"01-02-AB"}`),
	}

	for i := 0; i < b.N; i++ {
		_, _ = json.Marshal(msg)
	}
}
