package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cardauction/internal/metrics"
	"cardauction/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub tracks browser notification sockets per user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
	closed  bool
}

// Client is one browser socket.
type Client struct {
	hub   *Hub
	email string
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[client.email]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[client.email] = set
	}
	set[client] = true
	metrics.BrowserSocketOpened()
	return true
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.email]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.email)
	}
	client.close()
	metrics.BrowserSocketClosed()
}

// Publish sends ev to every socket of email. Slow sockets miss messages.
func (h *Hub) Publish(email string, ev notify.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[email] {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Listeners returns the number of open sockets for email.
func (h *Hub) Listeners(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[email])
}

// Stop closes every socket.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for email, set := range h.clients {
		for client := range set {
			client.close()
			metrics.BrowserSocketClosed()
		}
		delete(h.clients, email)
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
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

// ReadPump drains the socket so pongs and close frames are seen. Browsers
// send nothing else.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
