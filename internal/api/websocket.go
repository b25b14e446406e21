package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pcsc-tools/cardid-agent/internal/core"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"`              // Message type
	ID      string          `json:"id,omitempty"`      // Request ID for request/response matching
	Payload json.RawMessage `json:"payload,omitempty"` // Message payload
	Error   string          `json:"error,omitempty"`   // Error message if any
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub manages all WebSocket connections and pushes agent events to them.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	quit       chan struct{}
	mu         sync.RWMutex

	unsubscribe func()
	stopOnce    sync.Once
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, sendBufferSize),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					logging.Warn(logging.CatWebSocket, "Dropping slow client", map[string]any{
						"client": client.id,
					})
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and closes every client's send channel.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
	})
}

// Forward broadcasts agent events until events is closed or the hub stops.
func (h *WSHub) Forward(events <-chan core.Event) {
	defer logging.RecoverAndLog("WebSocket event forwarder", false)

	for {
		select {
		case <-h.quit:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := eventMessage(ev)
			if err != nil {
				logging.Error(logging.CatWebSocket, "Failed to encode event", map[string]any{
					"type":  string(ev.Type),
					"error": err.Error(),
				})
				continue
			}
			select {
			case h.broadcast <- msg:
			case <-h.quit:
				return
			}
		}
	}
}

// eventMessage renders an agent event as a push message.
func eventMessage(ev core.Event) ([]byte, error) {
	var payload interface{}
	switch ev.Type {
	case core.EventStatus:
		payload = ev.Status
	case core.EventCard:
		payload = ev.Result
	default:
		payload = map[string]string{
			"state": ev.State,
			"error": ev.Error,
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{
		Type:    string(ev.Type),
		Payload: raw,
		Error:   ev.Error,
	})
}

// send queues data for c unless the hub has already dropped it.
func (h *WSHub) send(c *WSClient, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(logging.CatWebSocket, "Client send buffer full", map[string]any{
			"client": c.id,
		})
	}
}

// Global hub instance
var wsHub *WSHub

// InitWebSocket initializes the WebSocket hub, subscribes it to the agent's
// events, and returns the handler
func InitWebSocket() http.HandlerFunc {
	if wsHub != nil {
		wsHub.Stop()
	}
	hub := NewWSHub()
	wsHub = hub
	go hub.Run()

	if controller != nil {
		events, unsubscribe := controller.Subscribe(sendBufferSize)
		hub.unsubscribe = unsubscribe
		go hub.Forward(events)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error":      err.Error(),
				"remoteAddr": r.RemoteAddr,
			})
			return
		}

		client := &WSClient{
			id:   uuid.New().String(),
			conn: conn,
			send: make(chan []byte, sendBufferSize),
			hub:  hub,
		}

		logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
			"client":     client.id,
			"remoteAddr": r.RemoteAddr,
		})

		// Queued before registration so it is the first frame the client sees.
		welcome, _ := json.Marshal(map[string]string{
			"clientId": client.id,
			"version":  Version,
		})
		client.send <- mustMarshal(WSMessage{Type: "welcome", Payload: welcome})

		select {
		case hub.register <- client:
		case <-hub.quit:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	// Cleanup (runs first)
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"client": c.id,
					"error":  err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", map[string]any{
					"client": c.id,
				})
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	// Cleanup (runs first)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"client": c.id,
		"type":   msg.Type,
		"id":     msg.ID,
	})

	switch msg.Type {
	case "start":
		c.handleStart(msg.ID)
	case "stop":
		c.handleStop(msg.ID)
	case "read":
		c.handleRead(msg.ID)
	case "state":
		c.handleState(msg.ID)
	case "list_readers":
		c.handleListReaders(msg.ID)
	case "version":
		c.handleVersion(msg.ID)
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": msg.Type,
		})
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) deliver(data []byte) {
	if c.hub == nil {
		c.send <- data
		return
	}
	c.hub.send(c, data)
}

func mustMarshal(msg WSMessage) []byte {
	data, _ := json.Marshal(msg)
	return data
}

func (c *WSClient) sendResponse(id string, msgType string, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	response := WSMessage{
		Type:    msgType,
		ID:      id,
		Payload: payloadBytes,
	}
	responseBytes, _ := json.Marshal(response)
	c.deliver(responseBytes)
}

func (c *WSClient) sendError(id string, errMsg string) {
	response := WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	}
	responseBytes, _ := json.Marshal(response)
	c.deliver(responseBytes)
}

func (c *WSClient) handleStart(id string) {
	if controller == nil {
		c.sendError(id, "agent not running")
		return
	}
	if err := controller.StartMonitor(); err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.handleState(id)
}

func (c *WSClient) handleStop(id string) {
	if controller == nil {
		c.sendError(id, "agent not running")
		return
	}
	controller.StopMonitor()
	c.handleState(id)
}

func (c *WSClient) handleRead(id string) {
	if controller == nil {
		c.sendError(id, "agent not running")
		return
	}
	result := controller.ReadNow()
	if result.Err != nil {
		c.sendError(id, result.Error)
		return
	}
	c.sendResponse(id, "read", result)
}

func (c *WSClient) handleState(id string) {
	if controller == nil {
		c.sendError(id, "agent not running")
		return
	}
	c.sendResponse(id, "state", monitorStatus())
}

func (c *WSClient) handleListReaders(id string) {
	if controller == nil {
		c.sendError(id, "agent not running")
		return
	}
	readers, err := controller.ListReaders()
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	if readers == nil {
		readers = []string{}
	}
	c.sendResponse(id, "readers", readers)
}

func (c *WSClient) handleVersion(id string) {
	c.sendResponse(id, "version", map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}
