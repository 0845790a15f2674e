package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboxActivities counts inbound activities by type and outcome.
	InboxActivities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_inbox_activities_total",
		Help: "Total number of inbound activities by type and outcome",
	}, []string{"type", "outcome"})

	// Deliveries counts outbound delivery attempts by outcome.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_deliveries_total",
		Help: "Total number of outbound deliveries by outcome",
	}, []string{"outcome"})

	// DeliveryLatency records outbound POST latency.
	DeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outpost_delivery_latency_seconds",
		Help:    "Outbound delivery latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// QueueMessages counts queue adapter decisions by stream and result.
	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_queue_messages_total",
		Help: "Queue messages by stream and result (enqueued, skipped, ack, nack, mismatch, reclaimed, dead)",
	}, []string{"stream", "result"})

	// EventHandlerFailures counts failed or panicking event handlers by event name.
	EventHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_event_handler_failures_total",
		Help: "Total number of failed event bus handlers",
	}, []string{"event"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outpost_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ActorCache counts remote actor cache lookups by result.
	ActorCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_actor_cache_total",
		Help: "Remote actor cache lookups by result (hit, miss, stale)",
	}, []string{"result"})

	// WebSocketBackpressureDrops counts live notifications dropped because a client could not keep up.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_websocket_backpressure_drops_total",
		Help: "Live notification messages dropped by reason (full, closed)",
	}, []string{"reason"})

	// Notifications counts reactor decisions by notification type and result.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_notifications_total",
		Help: "Notification reactor results by type (created, duplicate, filtered, skipped)",
	}, []string{"type", "result"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// TrackDelivery returns a function that records the latency and outcome
// (delivered, failed, rejected) of one delivery.
func TrackDelivery() func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		DeliveryLatency.Observe(time.Since(start).Seconds())
		Deliveries.WithLabelValues(outcome).Inc()
	}
}
