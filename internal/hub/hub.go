// Package hub fans queue events out to connected waiting-room displays.
// Clients subscribe per doctor and visit date; an empty field matches all.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/NikWasHere/magang-rspb-sub000/internal/events"
)

type Subscription struct {
	DoctorID  string
	VisitDate string
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
	Action    string `json:"action"`
	DoctorID  string `json:"doctor_id"`
	VisitDate string `json:"visit_date"`
}

func New(logger *zap.Logger) *Hub {
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
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop display message", zap.String("client_id", client.ID))
		}
	}
}

func match(sub Subscription, meta Subscription) bool {
	if sub.DoctorID != "" && meta.DoctorID != sub.DoctorID {
		return false
	}
	if sub.VisitDate != "" && meta.VisitDate != sub.VisitDate {
		return false
	}
	return true
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

// Publish implements events.Publisher so the hub can sit directly behind the
// store's event fan-out.
func (h *Hub) Publish(event events.QueueEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal display event", zap.Error(err))
		return
	}
	h.Broadcast(payload, Subscription{DoctorID: event.DoctorID, VisitDate: event.VisitDate})
}
