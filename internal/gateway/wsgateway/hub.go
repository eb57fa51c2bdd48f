// Package wsgateway implements the UI Gateway: a gin-gonic/gin HTTP API for
// flow CRUD and agent control, plus a gorilla/websocket hub that broadcasts
// the UI event surface (write_board, display, error, input) to every
// connected client. Grounded in the teacher's orchestrator/api +
// orchestrator/streaming packages, generalized from per-task subscription
// channels to a single broadcast-to-all hub with a last-value cache, per
// SPEC_FULL.md's "last-value/broadcast hub" description.
package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// event is the wire shape of every message the hub pushes to clients.
type event struct {
	Type      string      `json:"type"`
	AgentID   string      `json:"agentId,omitempty"`
	Board     string      `json:"board,omitempty"`
	Key       string      `json:"key,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client is one connected UI websocket connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *logger.Logger
}

// NewClient wraps an upgraded connection for registration with a Hub.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
		logger: log.With(zap.String("client_id", id)),
	}
}

// ReadPump drains the connection so pong frames are processed and a closed
// socket is detected; the UI event surface is one-directional from the
// server except for "input" messages, which are forwarded to InputFunc.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("client read error", zap.Error(err))
			}
			return
		}
		c.hub.handleClientMessage(c, raw)
	}
}

// WritePump drains send and flushes periodic pings, per the standard
// gorilla/websocket pump pattern.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// InputFunc is invoked whenever a connected client sends an "input" frame,
// wired to the instance map by the composition root so input can reach a
// running agent's channel.
type InputFunc func(agentID, channel string, v value.Value)

// clientMessage is the shape of a frame a UI client may send; only "input"
// is meaningful today.
type clientMessage struct {
	Type    string      `json:"type"`
	AgentID string      `json:"agentId"`
	Channel string      `json:"channel"`
	Value   value.Value `json:"value"`
}

// Hub is a broadcast-to-all websocket hub implementing router.UIEventSink.
// It keeps a last-value cache per board/display key so a client that
// connects after the fact still sees current state.
type Hub struct {
	log *logger.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	inputFn InputFunc

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	boards   map[string]event
	displays map[string]event
}

// NewHub creates an unstarted Hub; call Run to start its dispatch loop.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		log:        log.With(zap.String("component", "ws_gateway_hub")),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*Client]struct{}),
		boards:     make(map[string]event),
		displays:   make(map[string]event),
	}
}

// SetInputFunc wires the callback invoked on an inbound "input" frame.
func (h *Hub) SetInputFunc(fn InputFunc) {
	h.mu.Lock()
	h.inputFn = fn
	h.mu.Unlock()
}

// Run processes register/unregister/broadcast until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("ui gateway hub started")
	defer h.log.Info("ui gateway hub stopped")
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			snapshot := h.snapshotLocked()
			h.mu.Unlock()
			for _, raw := range snapshot {
				select {
				case c.send <- raw:
				default:
				}
			}
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case raw := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- raw:
				default:
					h.log.Warn("ws client send buffer full, dropping client", zap.String("client_id", c.id))
					go func(c *Client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// snapshotLocked returns the encoded last-value cache; caller must hold mu.
func (h *Hub) snapshotLocked() [][]byte {
	out := make([][]byte, 0, len(h.boards)+len(h.displays))
	for _, e := range h.boards {
		if raw, err := json.Marshal(e); err == nil {
			out = append(out, raw)
		}
	}
	for _, e := range h.displays {
		if raw, err := json.Marshal(e); err == nil {
			out = append(out, raw)
		}
	}
	return out
}

// Register adds a client to the hub and replays the current last-value
// cache to it.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) handleClientMessage(c *Client, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Debug("dropping malformed client frame", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	if msg.Type != "input" {
		return
	}
	h.mu.RLock()
	fn := h.inputFn
	h.mu.RUnlock()
	if fn != nil {
		fn(msg.AgentID, msg.Channel, msg.Value)
	}
}

func (h *Hub) publish(e event) {
	e.Timestamp = time.Now()
	raw, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("failed to marshal ui event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.log.Warn("ui event broadcast queue full, dropping event", zap.String("type", e.Type))
	}
}

// WriteBoard implements router.UIEventSink.
func (h *Hub) WriteBoard(boardName string, data value.Data) {
	e := event{Type: "write_board", Board: boardName, Data: data}
	h.mu.Lock()
	h.boards[boardName] = e
	h.mu.Unlock()
	h.publish(e)
}

// Display implements router.UIEventSink.
func (h *Hub) Display(agentID, key string, data value.Data) {
	e := event{Type: "display", AgentID: agentID, Key: key, Data: data}
	h.mu.Lock()
	h.displays[agentID+"\x00"+key] = e
	h.mu.Unlock()
	h.publish(e)
}

// Error implements router.UIEventSink. Error events are not cached — a
// newly-connecting client does not need history of past failures.
func (h *Hub) Error(agentID string, err error) {
	h.publish(event{Type: "error", AgentID: agentID, Error: err.Error()})
}

// Input implements router.UIEventSink, notifying UI clients that an agent
// is now accepting input on ch.
func (h *Hub) Input(agentID, ch string) {
	h.publish(event{Type: "input", AgentID: agentID, Channel: ch})
}
