// Package realtime fans committed lifecycle events out to connected sessions.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is one committed lifecycle change. AccountID is the customer the
// entity belongs to; TechnicianID is set for work order events.
type Message struct {
	Type         string    `json:"type"`
	EntityID     string    `json:"entity_id"`
	AccountID    string    `json:"account_id,omitempty"`
	TechnicianID string    `json:"technician_id,omitempty"`
	Data         any       `json:"data,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Subscription struct {
	AccountID string
	Staff     bool
	// EntityID narrows the feed to a single entity when set.
	EntityID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	EntityID string `json:"entity_id"`
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, entityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription.EntityID = entityID
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers msg to every session allowed to see it. Slow clients drop messages.
func (h *Hub) Publish(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("realtime marshal failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, msg) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("realtime drop", zap.String("client_id", client.ID), zap.String("type", msg.Type))
		}
	}
}

func match(sub Subscription, msg Message) bool {
	if sub.EntityID != "" && sub.EntityID != msg.EntityID {
		return false
	}
	if sub.Staff {
		return true
	}
	if sub.AccountID == "" {
		return false
	}
	return sub.AccountID == msg.AccountID || sub.AccountID == msg.TechnicianID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
