// Package hub broadcasts live readings to connected websocket clients.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub fans messages out to every registered client. Slow clients are
// dropped rather than allowed to stall the broadcast loop.
type Hub struct {
	mu         sync.Mutex
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{}
	log        *zap.Logger
}

// NewHub returns a hub; call Run in its own goroutine.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations and broadcasts until Close.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.removeClient(c)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Debug("dropping slow websocket client")
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// add and remove park on the stop channel so client pumps never block on a
// hub that has already shut down.
func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.stop:
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// Broadcast sends a typed JSON envelope to every client. Marshal failures
// are logged and swallowed; a push channel must not fail the caller.
func (h *Hub) Broadcast(kind string, payload any) {
	msg, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	if err != nil {
		h.log.Warn("broadcast marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.stop:
	}
}

// Close shuts the hub down and disconnects every client.
func (h *Hub) Close() {
	close(h.stop)
	<-h.done
}
