// Package websocket serves the bridge UI socket: it tracks connected
// clients, routes their requests through a dispatcher, and fans bus events
// out to clients subscribed to a terminal.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events"
	ws "github.com/neoai/neoai/pkg/websocket"
	"go.uber.org/zap"
)

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients subscribed to a terminal, keyed by its subject token
	terminalSubscribers map[string]map[*Client]bool

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Channel for broadcasting notifications
	broadcast chan *ws.Message

	// Message dispatcher
	dispatcher *ws.Dispatcher

	done   chan struct{}
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:             make(map[*Client]bool),
		terminalSubscribers: make(map[string]map[*Client]bool),
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		broadcast:           make(chan *ws.Message, 256),
		dispatcher:          dispatcher,
		done:                make(chan struct{}),
		logger:              log.Component("ws_hub"),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.terminalSubscribers = make(map[string]map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()

		for token := range client.subscriptions {
			h.dropSubscriberLocked(token, client)
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) dropSubscriberLocked(token string, client *Client) {
	if clients, ok := h.terminalSubscribers[token]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.terminalSubscribers, token)
		}
	}
}

func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.enqueue(data)
	}
}

// Register adds a client to the hub. It returns false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// BroadcastToTerminal sends a notification to clients subscribed to the
// terminal whose subject token is token.
func (h *Hub) BroadcastToTerminal(token string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.terminalSubscribers[token] {
		client.enqueue(data)
	}
}

// SubscribeToTerminal subscribes a client to a terminal's notifications.
func (h *Hub) SubscribeToTerminal(client *Client, terminalID string) {
	token := events.SubjectToken(terminalID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.terminalSubscribers[token]; !ok {
		h.terminalSubscribers[token] = make(map[*Client]bool)
	}
	h.terminalSubscribers[token][client] = true
	client.subscriptions[token] = true

	h.logger.Debug("Client subscribed to terminal",
		zap.String("client_id", client.ID),
		zap.String("terminal_id", terminalID))
}

// UnsubscribeFromTerminal drops a client's subscription to a terminal.
func (h *Hub) UnsubscribeFromTerminal(client *Client, terminalID string) {
	token := events.SubjectToken(terminalID)

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, token)
	h.dropSubscriberLocked(token, client)
}

// SubscriberCount returns how many clients follow terminalID.
func (h *Hub) SubscriberCount(terminalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.terminalSubscribers[events.SubjectToken(terminalID)])
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
