// Package live pushes run status and incident updates over WebSocket: a
// register/unregister/broadcast channel triangle with a per-client
// buffered send channel, covering the control plane's event types (run
// status, incident, job outcome).
package live

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// SendBufferSize is the per-client outbound channel depth. A slow
// client beyond this is dropped rather than blocking the broadcaster.
const SendBufferSize = 256

// EventType names the kind of message pushed to subscribers.
type EventType string

const (
	EventRunStatus EventType = "run.status"
	EventIncident  EventType = "incident"
	EventJob       EventType = "job"
)

// Message is the envelope pushed over the socket.
type Message struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to every connected subscriber.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	started    sync.Once
}

// NewHub constructs a Hub. Its dispatch loop starts on the first
// Broadcast or ServeWS call.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, SendBufferSize),
	}
}

// Run drives the hub's dispatch loop; it never returns. Broadcast and
// ServeWS start it once, in its own goroutine, on first use.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes msg to every connected client.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.started.Do(func() { go h.Run() })
	select {
	case h.broadcast <- data:
	default:
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS returns an http.HandlerFunc that upgrades the connection and
// registers it with the hub. checkOrigin gets the Origin header and
// decides whether to accept the upgrade.
func (h *Hub) ServeWS(checkOrigin func(origin string) bool) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return checkOrigin(r.Header.Get("Origin")) },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h.started.Do(func() { go h.Run() })
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &client{hub: h, conn: conn, send: make(chan []byte, SendBufferSize)}
		h.register <- c
		go c.writePump()
		go c.readPump()
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
