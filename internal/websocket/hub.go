package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"adminreports/internal/infrastructure"
	"adminreports/pkg/contracts/events"
)

// broadcastBuffer bounds the messages queued for the hub loop
const broadcastBuffer = 256

// SnapshotFunc returns the state a newly connected client should see first
type SnapshotFunc func() (*events.OperationSnapshot, bool)

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics
	initial SnapshotFunc

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	messagesDropped  atomic.Int64

	quit    chan struct{}
	running bool
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithMetrics records hub activity on m
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithInitialSnapshot sends the snapshot returned by fn to every new client
func WithInitialSnapshot(fn SnapshotFunc) HubOption {
	return func(h *Hub) { h.initial = fn }
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start runs the hub loop in a goroutine. Calling Start twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub_stopped")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "closed")

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.totalConnections.Add(1)

	ctx := client.context()
	h.logger.InfoContext(ctx, "client_registered",
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr),
		slog.Int("total_clients", count))
	h.metrics.RecordConnection(ctx, count)

	h.deliver(client, encode(events.MessageTypeConnect, map[string]interface{}{
		"status":    "connected",
		"client_id": client.id,
	}))

	if h.initial == nil {
		return
	}
	if snapshot, ok := h.initial(); ok {
		h.deliver(client, encode(events.MessageTypeOperationSnapshot, snapshot))
	}
}

func (h *Hub) removeClient(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	duration := time.Since(client.connectedAt)
	h.logger.InfoContext(ctx, "client_unregistered",
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Int("total_clients", count),
		slog.Duration("connection_duration", duration))
	h.metrics.RecordDisconnection(ctx, count, duration, reason)
}

// deliver queues a message for one client without blocking the hub.
// The read lock keeps Stop from closing the send channel underneath.
func (h *Hub) deliver(client *Client, message []byte) bool {
	if message == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- message:
		h.messagesSent.Add(1)
		return true
	default:
		return false
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, client := range clients {
		if h.deliver(client, message) {
			delivered++
			continue
		}
		// A client that cannot keep up is disconnected
		dropped++
		h.messagesDropped.Add(1)
		h.logger.WarnContext(client.context(), "client_send_buffer_full",
			slog.String("client_id", client.id))
		h.removeClient(client, "slow_consumer")
	}

	h.logger.Debug("message_broadcast",
		slog.Int("clients", len(clients)),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped),
		slog.Int("size", len(message)))
	h.metrics.RecordBroadcast(context.Background(), len(message), delivered, dropped)
}

// BroadcastUpdate sends an event to every connected client. operationID and
// status only annotate the log; data is written as the message payload.
func (h *Hub) BroadcastUpdate(eventType, operationID, status string, data interface{}) {
	message := encode(events.MessageType(eventType), data)
	if message == nil {
		h.logger.Error("message_encode_failed",
			slog.String("type", eventType),
			slog.String("operation_id", operationID))
		return
	}

	select {
	case h.broadcast <- message:
	case <-h.quit:
	default:
		h.messagesDropped.Add(1)
		h.logger.Warn("broadcast_queue_full",
			slog.String("type", eventType),
			slog.String("operation_id", operationID),
			slog.String("status", status))
	}
}

func encode(t events.MessageType, data interface{}) []byte {
	b, err := json.Marshal(events.Message{Type: t, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil
	}
	return b
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Stop closes every client and stops the hub loop
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.quit)

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Stats returns counters of the hub
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"active_clients":    h.ClientCount(),
		"total_connections": h.totalConnections.Load(),
		"messages_sent":     h.messagesSent.Load(),
		"messages_dropped":  h.messagesDropped.Load(),
	}
}
