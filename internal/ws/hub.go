package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from a different origin in development
	},
}

// Event is the wire shape of every dashboard message.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Time string          `json:"time"`
}

// Client is one connected dashboard browser.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger
}

// Hub fans league events out to every connected dashboard and replays the
// last event of each type to late subscribers, so a freshly opened page
// shows current standings immediately.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	last    map[string][]byte // event type -> last payload
	paused  bool
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log.Named("ws"),
		clients: make(map[*Client]bool),
		last:    make(map[string][]byte),
	}
}

// Publish marshals and broadcasts one event. Satisfies the orchestrator's
// Publisher. Never blocks; slow clients drop messages.
func (h *Hub) Publish(eventType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error("marshal event failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	msg, err := json.Marshal(Event{
		Type: eventType,
		Data: raw,
		Time: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.last[eventType] = msg
	paused := h.paused
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if paused {
		return
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("client send buffer full, dropping event", zap.String("type", eventType))
		}
	}
}

// SetPaused stops (or resumes) live broadcasting. Snapshots keep updating
// so a resume shows current state.
func (h *Hub) SetPaused(paused bool) {
	h.mu.Lock()
	h.paused = paused
	h.mu.Unlock()
	h.log.Info("broadcast pause toggled", zap.Bool("paused", paused))
}

// Paused reports the current pause flag.
func (h *Hub) Paused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.paused
}

// Serve upgrades one HTTP request to a dashboard connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, 64), log: h.log}

	h.mu.Lock()
	h.clients[c] = true
	// Replay the last known event of every type so the page has state
	// before the next live event arrives.
	for _, msg := range h.last {
		select {
		case c.send <- msg:
		default:
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("dashboard connected", zap.Int("clients", n))
	go c.writePump()
	go h.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *Client) {
	defer h.drop(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("dashboard disconnected", zap.Int("clients", n))
}

// writePump writes queued events and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
