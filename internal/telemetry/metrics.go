package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/jobstream"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Connection metrics
	ConnectionsAccepted metric.Int64Counter
	ConnectionsRejected metric.Int64Counter
	ActiveConnections   metric.Int64UpDownCounter
	ConnectionDuration  metric.Float64Histogram

	// Subscription metrics
	SubscribeAcceptedTotal metric.Int64Counter
	SubscribePendingTotal  metric.Int64Counter
	SubscribeRejectedTotal metric.Int64Counter
	PendingActivatedTotal  metric.Int64Counter
	PendingExpiredTotal    metric.Int64Counter

	// Delivery metrics
	MessagesPublishedTotal  metric.Int64Counter
	MessagesDeliveredTotal  metric.Int64Counter
	MessagesBackloggedTotal metric.Int64Counter
	MessagesDroppedTotal    metric.Int64Counter
	BacklogReplayedTotal    metric.Int64Counter
	BacklogEvictedTotal     metric.Int64Counter

	// Ticket metrics
	TicketsIssuedTotal  metric.Int64Counter
	TicketsClaimedTotal metric.Int64Counter
	TicketsExpiredTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Connection metrics
	m.ConnectionsAccepted, _ = meter.Int64Counter(
		"jobstream.connections.accepted.total",
		metric.WithDescription("Total number of websocket connections accepted"),
		metric.WithUnit("{connection}"),
	)

	m.ConnectionsRejected, _ = meter.Int64Counter(
		"jobstream.connections.rejected.total",
		metric.WithDescription("Total number of websocket connections rejected at handshake"),
		metric.WithUnit("{connection}"),
	)

	m.ActiveConnections, _ = meter.Int64UpDownCounter(
		"jobstream.connections.active",
		metric.WithDescription("Number of open websocket connections"),
		metric.WithUnit("{connection}"),
	)

	m.ConnectionDuration, _ = meter.Float64Histogram(
		"jobstream.connections.duration",
		metric.WithDescription("Lifetime of closed websocket connections"),
		metric.WithUnit("s"),
	)

	// Subscription metrics
	m.SubscribeAcceptedTotal, _ = meter.Int64Counter(
		"jobstream.subscriptions.accepted.total",
		metric.WithDescription("Total number of subscribe requests acknowledged as active"),
		metric.WithUnit("{subscription}"),
	)

	m.SubscribePendingTotal, _ = meter.Int64Counter(
		"jobstream.subscriptions.pending.total",
		metric.WithDescription("Total number of subscribe requests parked as pending"),
		metric.WithUnit("{subscription}"),
	)

	m.SubscribeRejectedTotal, _ = meter.Int64Counter(
		"jobstream.subscriptions.rejected.total",
		metric.WithDescription("Total number of subscribe requests rejected"),
		metric.WithUnit("{subscription}"),
	)

	m.PendingActivatedTotal, _ = meter.Int64Counter(
		"jobstream.subscriptions.pending_activated.total",
		metric.WithDescription("Total number of pending subscriptions promoted to active"),
		metric.WithUnit("{subscription}"),
	)

	m.PendingExpiredTotal, _ = meter.Int64Counter(
		"jobstream.subscriptions.pending_expired.total",
		metric.WithDescription("Total number of pending subscriptions expired before activation"),
		metric.WithUnit("{subscription}"),
	)

	// Delivery metrics
	m.MessagesPublishedTotal, _ = meter.Int64Counter(
		"jobstream.messages.published.total",
		metric.WithDescription("Total number of messages offered to the delivery path"),
		metric.WithUnit("{message}"),
	)

	m.MessagesDeliveredTotal, _ = meter.Int64Counter(
		"jobstream.messages.delivered.total",
		metric.WithDescription("Total number of messages queued to live subscribers"),
		metric.WithUnit("{message}"),
	)

	m.MessagesBackloggedTotal, _ = meter.Int64Counter(
		"jobstream.messages.backlogged.total",
		metric.WithDescription("Total number of messages queued for later replay"),
		metric.WithUnit("{message}"),
	)

	m.MessagesDroppedTotal, _ = meter.Int64Counter(
		"jobstream.messages.dropped.total",
		metric.WithDescription("Total number of messages dropped due to full send buffers"),
		metric.WithUnit("{message}"),
	)

	m.BacklogReplayedTotal, _ = meter.Int64Counter(
		"jobstream.backlog.replayed.total",
		metric.WithDescription("Total number of backlog messages replayed to subscribers"),
		metric.WithUnit("{message}"),
	)

	m.BacklogEvictedTotal, _ = meter.Int64Counter(
		"jobstream.backlog.evicted.total",
		metric.WithDescription("Total number of backlog messages evicted by the size cap or TTL"),
		metric.WithUnit("{message}"),
	)

	// Ticket metrics
	m.TicketsIssuedTotal, _ = meter.Int64Counter(
		"jobstream.tickets.issued.total",
		metric.WithDescription("Total number of one-time connection tickets issued"),
		metric.WithUnit("{ticket}"),
	)

	m.TicketsClaimedTotal, _ = meter.Int64Counter(
		"jobstream.tickets.claimed.total",
		metric.WithDescription("Total number of tickets successfully claimed at handshake"),
		metric.WithUnit("{ticket}"),
	)

	m.TicketsExpiredTotal, _ = meter.Int64Counter(
		"jobstream.tickets.expired.total",
		metric.WithDescription("Total number of ticket claims that failed because the ticket was missing or expired"),
		metric.WithUnit("{ticket}"),
	)

	return m
}
