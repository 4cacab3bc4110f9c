package http

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"live-poll-service/internal/domain"
)

// Client is one live participant connection. The hub exclusively owns the
// websocket handle; everything outbound goes through the buffered send
// channel so a single writer goroutine serializes writes. The closed flag
// and the channel share the client mutex: a targeted send racing a shutdown
// (kick, reconnect replacement) must never hit a closed channel.
type Client struct {
	UserID string
	Role   domain.Role
	Name   string

	conn *websocket.Conn

	mu     sync.Mutex
	send   chan outboundMessage
	closed bool

	inRoom bool
}

func newClient(conn *websocket.Conn, userID string, role domain.Role, name string) *Client {
	return &Client{
		UserID: userID,
		Role:   role,
		Name:   name,
		conn:   conn,
		send:   make(chan outboundMessage, 32),
	}
}

// writePump drains the send channel onto the socket. It runs until the
// channel is closed, so buffered events (an eviction notice, say) are still
// delivered before the connection drops.
func (c *Client) writePump(log *slog.Logger) {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Debug("ws write failed", "user", c.UserID, "err", err)
			break
		}
	}
	_ = c.conn.Close()
}

func (c *Client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// Hub is the participant registry and broadcast fan-out for the single
// session room. It implements app.EventSink; sends never block (a full
// client buffer drops the message for that client only).
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]*Client
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:     logger,
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]*Client),
	}
}

// Register binds a client to its participant id, replacing (and shutting
// down) any prior connection for the same id so reconnects take over cleanly.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	prev := h.byUser[c.UserID]
	if prev != nil {
		delete(h.clients, prev)
	}
	h.clients[c] = struct{}{}
	h.byUser[c.UserID] = c
	h.mu.Unlock()
	if prev != nil {
		prev.shutdown()
	}
	h.log.Info("client registered", "user", c.UserID, "role", string(c.Role))
}

// Unregister releases both directions of the mapping and reports whether this
// client still held the binding. A connection that was already replaced or
// evicted gets false so its teardown leaves presence state alone.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c)
	if h.byUser[c.UserID] == c {
		delete(h.byUser, c.UserID)
	}
	h.mu.Unlock()
	c.shutdown()
	h.log.Info("client unregistered", "user", c.UserID)
	return true
}

// Resolve returns the live connection for a participant id, if any.
func (h *Hub) Resolve(userID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.byUser[userID]
	return c, ok
}

// JoinRoom adds a registered client to the session room. Clients outside the
// room (connected but not yet admitted) receive targeted events only.
func (h *Hub) JoinRoom(c *Client) {
	h.mu.Lock()
	c.inRoom = true
	h.mu.Unlock()
}

// Evict drops a participant's binding and shuts its connection down, after
// any already-queued events (the eviction notice) have been flushed.
func (h *Hub) Evict(userID string) {
	h.mu.Lock()
	c := h.byUser[userID]
	if c != nil {
		delete(h.byUser, userID)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if c != nil {
		c.shutdown()
	}
}

func (h *Hub) ToUser(userID, event string, payload any) {
	h.mu.RLock()
	c := h.byUser[userID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	h.deliver(c, outboundMessage{Type: event, Payload: payload})
}

func (h *Hub) ToRoom(event string, payload any) {
	h.broadcast(event, payload, "")
}

func (h *Hub) ToRoomExcept(userID, event string, payload any) {
	h.broadcast(event, payload, userID)
}

func (h *Hub) broadcast(event string, payload any, exceptUserID string) {
	msg := outboundMessage{Type: event, Payload: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.inRoom || c.UserID == exceptUserID {
			continue
		}
		h.deliver(c, msg)
	}
}

func (h *Hub) deliver(c *Client, msg outboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn("client send buffer full, dropping event", "user", c.UserID, "event", msg.Type)
	}
}
