package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records hub activity as OpenTelemetry instruments.
// A nil *Metrics records nothing.
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionDuration metric.Float64Histogram
	disconnections     metric.Int64Counter
	clientCount        metric.Int64Gauge

	broadcasts      metric.Int64Counter
	messagesSent    metric.Int64Counter
	messageBytes    metric.Int64Counter
	droppedMessages metric.Int64Counter
	messagesRecv    metric.Int64Counter
}

// NewMetrics creates the WebSocket instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.connectionsTotal, err = meter.Int64Counter("websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections")); err != nil {
		return nil, err
	}
	if m.connectionDuration, err = meter.Float64Histogram("websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.disconnections, err = meter.Int64Counter("websocket_disconnections_total",
		metric.WithDescription("Total number of WebSocket disconnections")); err != nil {
		return nil, err
	}
	if m.clientCount, err = meter.Int64Gauge("websocket_client_count",
		metric.WithDescription("Current number of connected WebSocket clients")); err != nil {
		return nil, err
	}
	if m.broadcasts, err = meter.Int64Counter("websocket_broadcast_operations_total",
		metric.WithDescription("Total number of WebSocket broadcast operations")); err != nil {
		return nil, err
	}
	if m.messagesSent, err = meter.Int64Counter("websocket_messages_sent_total",
		metric.WithDescription("Messages queued for connected clients")); err != nil {
		return nil, err
	}
	if m.messageBytes, err = meter.Int64Counter("websocket_message_bytes_total",
		metric.WithDescription("Total bytes of broadcast messages"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.droppedMessages, err = meter.Int64Counter("websocket_dropped_messages_total",
		metric.WithDescription("Messages dropped for slow clients")); err != nil {
		return nil, err
	}
	if m.messagesRecv, err = meter.Int64Counter("websocket_messages_received_total",
		metric.WithDescription("Messages received from clients")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordConnection records a registered client
func (m *Metrics) RecordConnection(ctx context.Context, clients int) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.clientCount.Record(ctx, int64(clients))
}

// RecordDisconnection records an unregistered client
func (m *Metrics) RecordDisconnection(ctx context.Context, clients int, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	m.disconnections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.connectionDuration.Record(ctx, duration.Seconds())
	m.clientCount.Record(ctx, int64(clients))
}

// RecordBroadcast records one message fanned out to the clients
func (m *Metrics) RecordBroadcast(ctx context.Context, size, delivered, dropped int) {
	if m == nil {
		return
	}
	m.broadcasts.Add(ctx, 1)
	m.messagesSent.Add(ctx, int64(delivered))
	m.messageBytes.Add(ctx, int64(size*delivered))
	if dropped > 0 {
		m.droppedMessages.Add(ctx, int64(dropped))
	}
}

// RecordReceived records a message read from a client
func (m *Metrics) RecordReceived(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.messagesRecv.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
