package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Klingon-tech/klingsign/pkg/logging"
)

const (
	wsReadLimit  = 1 << 20
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 256
)

var errConnClosed = errors.New("websocket connection closed")

// EventType represents the type of WebSocket event.
type EventType string

const (
	// EventTransaction carries a submission.Event.
	EventTransaction EventType = "transaction"
)

// WSEvent is a WebSocket event message.
type WSEvent struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// notification is a server-initiated JSON-RPC message.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// SubscriptionPush is the params of a "subscription" notification.
type SubscriptionPush struct {
	Subscription string `json:"subscription"`
	Topic        string `json:"topic"`
	Result       any    `json:"result"`
}

// wsConn is one WebSocket connection. Calls on it are read and answered in
// order; subscription pushes and hub events share its send queue.
type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue queues data for the write pump. A full queue closes the
// connection.
func (c *wsConn) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closed = true
		close(c.send)
		return errConnClosed
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// push is the subscription sink of the connection.
func (c *wsConn) push(subID, topic string, value any) error {
	return c.writeJSON(&notification{
		JSONRPC: "2.0",
		Method:  "subscription",
		Params:  &SubscriptionPush{Subscription: subID, Topic: topic, Result: value},
	})
}

// WSHub manages all WebSocket connections.
type WSHub struct {
	clients   map[*wsConn]bool
	broadcast chan *WSEvent
	quit      chan struct{}
	stopOnce  sync.Once
	log       *logging.Logger
	mu        sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:   make(map[*wsConn]bool),
		broadcast: make(chan *WSEvent, 256),
		quit:      make(chan struct{}),
		log:       logging.GetDefault().Component("ws"),
	}
}

func (h *WSHub) register(c *wsConn) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("WebSocket client connected", "conn", c.id, "clients", n)
}

func (h *WSHub) unregister(c *wsConn) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.log.Debug("WebSocket client disconnected", "conn", c.id, "clients", n)
}

// Run starts the hub event loop. It returns after Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			h.clients = make(map[*wsConn]bool)
			h.mu.Unlock()
			return

		case event := <-h.broadcast:
			data, err := json.Marshal(&notification{JSONRPC: "2.0", Method: "event", Params: event})
			if err != nil {
				h.log.Error("Failed to marshal event", "error", err)
				continue
			}

			h.mu.RLock()
			for c := range h.clients {
				if err := c.enqueue(data); err != nil {
					h.log.Debug("Dropping slow client", "conn", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends Run and closes every connection.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Broadcast sends an event to all connected clients.
func (h *WSHub) Broadcast(eventType EventType, data interface{}) {
	event := &WSEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("Broadcast channel full, dropping event", "type", eventType)
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.origins == nil {
		return true
	}
	return s.origins[r.Header.Get("Origin")]
}

// handleWS handles WebSocket connections.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	s.wsHub.register(c)

	go s.writePump(c)
	go s.readPump(c)
}

// readPump answers calls in arrival order until the connection drops, then
// cancels every subscription the connection opened.
func (s *Server) readPump(c *wsConn) {
	defer func() {
		if n := s.subs.Disconnect(c.id); n > 0 {
			s.log.Debug("Cancelled subscriptions of closed connection", "conn", c.id, "count", n)
		}
		s.wsHub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var resp *Response
		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			resp = errorResponse(nil, ParseError, "Parse error")
		} else {
			resp = s.call(s.ctx(), c, &req)
		}
		if err := c.writeJSON(resp); err != nil {
			return
		}
	}
}

// writePump writes queued messages, one per frame, and keeps the
// connection alive with pings.
func (s *Server) writePump(c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
