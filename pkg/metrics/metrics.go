// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks active WebSocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// UsersOnline tracks users with at least one live connection.
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_users_online",
			Help: "Number of distinct users currently online",
		},
	)

	// EventsTotal tracks realtime events by name and direction.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Total realtime events processed",
		},
		[]string{"event", "direction"},
	)

	// EventDispatchDuration tracks how long inbound event handling takes.
	EventDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ws_event_dispatch_seconds",
			Help:    "Inbound event dispatch duration",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"event"},
	)

	// MessagesTotal tracks chat messages accepted by kind.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages accepted",
		},
		[]string{"kind"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_conversations_total",
			Help: "Total conversations created",
		},
	)

	// CallsTotal tracks call signaling outcomes.
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_signals_total",
			Help: "Total call setup attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// BusEventsTotal tracks events published to / delivered from the bus.
	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_total",
			Help: "Total events through the NATS fan-out bus",
		},
		[]string{"direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEvent records one realtime event.
func RecordEvent(event, direction string) {
	EventsTotal.WithLabelValues(event, direction).Inc()
}
