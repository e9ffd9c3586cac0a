package auctionserver

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

const writeTimeout = 5 * time.Second

// client is one bidder connection. Writes are serialized since replies to a request and
// pushes from other groups' requests or the round runner may interleave.
type client struct {
	conn net.Conn

	mu  sync.Mutex
	enc *json.Encoder
}

func newClient(conn net.Conn) *client {
	return &client{conn: conn, enc: json.NewEncoder(conn)}
}

func (c *client) send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}

// Hub maps participant codes to their live connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// register binds code to c and returns the connection it replaced, if any.
func (h *Hub) register(code string, c *client) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	previous := h.clients[code]
	h.clients[code] = c
	if previous == c {
		return nil
	}
	return previous
}

// unregister removes code only if it is still bound to c.
func (h *Hub) unregister(code string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[code] == c {
		delete(h.clients, code)
	}
}

// Send delivers msg to the participant's connection. It reports false if the
// participant is not connected or the write failed.
func (h *Hub) Send(code string, msg any) bool {
	h.mu.RLock()
	c, ok := h.clients[code]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.send(msg) == nil
}

// Connected reports whether code has a live connection.
func (h *Hub) Connected(code string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[code]
	return ok
}

// Codes returns all connected participant codes.
func (h *Hub) Codes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	codes := make([]string, 0, len(h.clients))
	for code := range h.clients {
		codes = append(codes, code)
	}
	return codes
}
