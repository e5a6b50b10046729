package http

import (
	"sync"

	"go.uber.org/zap"
)

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type client struct {
	send chan outboundMessage
	key  string
}

// Hub tracks every live websocket connection. Viewers receive broadcasts;
// the single registered control panel connection receives the privileged
// stream and is excluded from the viewer count.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	control *client
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Broadcast sends an event to every connection, control panel included.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.push(outboundMessage{Type: event, Payload: payload})
	}
}

// SendControl sends an event only to the control panel connection, if one
// is registered.
func (h *Hub) SendControl(event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.control == nil {
		return
	}
	h.control.push(outboundMessage{Type: event, Payload: payload})
}

// ViewerCount reports connected non-control viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.clients)
	if h.control != nil {
		n--
	}
	return n
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if h.control == c {
		h.control = nil
	}
}

// markControl promotes a connection to the control panel. A later
// registration replaces an earlier one, which goes back to being a viewer.
func (h *Hub) markControl(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.control = c
}

func (h *Hub) isControl(c *client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.control == c
}

// push delivers without blocking; a slow consumer loses the oldest queued
// message rather than stalling the broadcast.
func (c *client) push(msg outboundMessage) {
	select {
	case c.send <- msg:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}
