// Package gateway is the realtime fan-out surface: HTTP routes for turns and
// jobs, WebSocket connections per user, and the relay that pushes bus
// envelopes to subscribed clients.
package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/pkg/ws"
)

// Hub tracks every WebSocket client, the clients of each user, and which
// user is subscribed to each job.
type Hub struct {
	clients     map[*Client]bool
	userClients map[string]map[*Client]bool
	jobUsers    map[string]string

	register   chan *Client
	unregister chan *Client

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		jobUsers:    make(map[string]string),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		dispatcher:  dispatcher,
		logger:      log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run processes client registration until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if h.userClients[client.UserID] == nil {
		h.userClients[client.UserID] = make(map[*Client]bool)
	}
	h.userClients[client.UserID][client] = true
	h.mu.Unlock()
	h.logger.Debug("Client registered",
		zap.String("client_id", client.ID), zap.String("user_id", client.UserID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		if clients, ok := h.userClients[client.UserID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.userClients, client.UserID)
			}
		}
		client.close()
	}
	h.mu.Unlock()
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.userClients = make(map[string]map[*Client]bool)
	h.jobUsers = make(map[string]string)
}

// SubscribeJob routes a job's events to the client's user.
func (h *Hub) SubscribeJob(client *Client, jobID string) {
	h.mu.Lock()
	h.jobUsers[jobID] = client.UserID
	h.mu.Unlock()
	client.addSubscription(jobID)
}

// UnsubscribeJob removes a job subscription.
func (h *Hub) UnsubscribeJob(client *Client, jobID string) {
	h.mu.Lock()
	if h.jobUsers[jobID] == client.UserID {
		delete(h.jobUsers, jobID)
	}
	h.mu.Unlock()
	client.removeSubscription(jobID)
}

// DropJob reclaims the subscription of a terminal job.
func (h *Hub) DropJob(jobID string) {
	h.mu.Lock()
	delete(h.jobUsers, jobID)
	h.mu.Unlock()
}

// PushToJob delivers a payload to every client of the user subscribed to the
// job. A client whose buffer is full is disconnected; a slow consumer must
// not stall the relay.
func (h *Hub) PushToJob(jobID string, data []byte) {
	h.mu.RLock()
	userID, ok := h.jobUsers[jobID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	var slow []*Client
	for client := range h.userClients[userID] {
		if !client.trySend(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Disconnecting slow client",
			zap.String("client_id", client.ID), zap.String("user_id", client.UserID))
		h.removeClient(client)
	}
}
