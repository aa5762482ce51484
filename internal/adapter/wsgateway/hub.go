// Package wsgateway is the live transport: one websocket per client,
// inbound control messages dispatched to the orchestrator and outbound
// assessment events pushed back on the same connection.
package wsgateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/domain"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

// Hub tracks the connection currently bound to each client id and
// implements domain.EventPublisher over those connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

// bind associates a connection with a client id, displacing any previous
// connection for the same id.
func (h *Hub) bind(id string, conn *websocket.Conn) *client {
	c := &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if prev, ok := h.clients[id]; ok {
		prev.close()
	}
	h.clients[id] = c
	h.mu.Unlock()

	go c.writePump()
	return c
}

func (h *Hub) unbind(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
}

// Connected reports whether a transport is bound for the client.
func (h *Hub) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}

// Publish sends the event to the client's connection. With no connection
// bound the event is dropped silently; a full send queue drops the event
// and reports it so the caller can log the delivery failure.
func (h *Hub) Publish(clientID string, ev domain.Event) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		log.WithFields(log.Fields{"client": clientID, "event": ev.Type}).Debug("No transport bound, event dropped")
		return nil
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}

	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return nil
	default:
		return fmt.Errorf("send queue full for client %s, dropped %s", clientID, ev.Type)
	}
}

func (c *client) writePump() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.WithField("client", c.id).WithError(err).Debug("Websocket write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
