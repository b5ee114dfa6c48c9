package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub owns every socket on this instance, keyed by user so one push
// reaches all of a user's devices. Registration and broadcast run
// through channels onto a single goroutine; reads take the lock
// directly.
type Hub struct {
	// userID -> set of clients (multiple devices per user)
	clients map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	outbound   chan *push

	mutex sync.RWMutex

	logger *zap.Logger

	totalConnections int64
	peakConnections  int64
	eventsDelivered  int64
}

type push struct {
	userIDs []uuid.UUID
	payload []byte
	event   EventType
}

// HubMetrics is a point-in-time snapshot for the health endpoint.
type HubMetrics struct {
	TotalConnections int64 `json:"total_connections"`
	PeakConnections  int64 `json:"peak_connections"`
	UniqueUsers      int64 `json:"unique_users"`
	EventsDelivered  int64 `json:"events_delivered"`
}

func NewHub(logger *zap.Logger) *Hub {
	hub := &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan *push, 256),
		logger:     logger.Named("hub"),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	h.logger.Info("hub started")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case p := <-h.outbound:
			h.deliver(p)
		}
	}
}

// Register hands a new client to the hub goroutine.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister detaches a client and closes its send buffer.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SendToUser pushes an event to every session of one user.
func (h *Hub) SendToUser(userID uuid.UUID, event Event) error {
	return h.SendToUsers([]uuid.UUID{userID}, event)
}

// SendToUsers pushes one serialized event to every session of the given
// users. Serialization happens once per call, not per recipient.
func (h *Hub) SendToUsers(userIDs []uuid.UUID, event Event) error {
	if len(userIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	select {
	case h.outbound <- &push{userIDs: userIDs, payload: payload, event: event.Type}:
		return nil
	default:
		return fmt.Errorf("hub outbound queue full, dropped %s", event.Type)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true

	h.totalConnections++
	if h.totalConnections > h.peakConnections {
		h.peakConnections = h.totalConnections
	}

	h.logger.Info("client registered",
		zap.String("user_id", client.userID.String()),
		zap.String("session_id", client.sessionID),
		zap.Int64("total_connections", h.totalConnections))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
	h.totalConnections--

	h.logger.Info("client unregistered",
		zap.String("user_id", client.userID.String()),
		zap.String("session_id", client.sessionID))
}

func (h *Hub) deliver(p *push) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, userID := range p.userIDs {
		for client := range h.clients[userID] {
			select {
			case client.send <- p.payload:
				h.eventsDelivered++
			default:
				h.logger.Warn("client buffer full, event dropped",
					zap.String("user_id", userID.String()),
					zap.String("session_id", client.sessionID),
					zap.String("event", string(p.event)))
			}
		}
	}
}

// IsUserConnected reports whether the user has at least one socket on
// this instance.
func (h *Hub) IsUserConnected(userID uuid.UUID) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[userID]) > 0
}

// ConnectedUserCount returns the number of distinct connected users.
func (h *Hub) ConnectedUserCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Metrics returns a snapshot of the hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return HubMetrics{
		TotalConnections: h.totalConnections,
		PeakConnections:  h.peakConnections,
		UniqueUsers:      int64(len(h.clients)),
		EventsDelivered:  h.eventsDelivered,
	}
}
