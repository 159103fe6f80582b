// Package metrics holds the Prometheus collectors for the broker. All
// collectors are package-level and registered once at init; callers touch
// them directly from the hot paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pusherd_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_connections_failed_total",
		Help: "Total number of failed WebSocket upgrade attempts",
	})

	// Message metrics
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_messages_sent_total",
		Help: "Total number of messages sent to clients",
	})

	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_messages_received_total",
		Help: "Total number of messages received from clients",
	})

	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_bytes_sent_total",
		Help: "Total number of bytes sent to clients",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_bytes_received_total",
		Help: "Total number of bytes received from clients",
	})

	// Channel metrics
	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pusherd_subscriptions_active",
		Help: "Current number of (connection, channel) subscriptions",
	})

	SubscriptionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pusherd_subscription_errors_total",
		Help: "Total rejected subscription attempts by reason",
	}, []string{"reason"})

	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pusherd_broadcasts_total",
		Help: "Total channel broadcasts by channel type",
	}, []string{"channel_type"})

	ClientEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_client_events_total",
		Help: "Total client events rebroadcast between subscribers",
	})

	// REST API metrics
	PublishedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusherd_published_events_total",
		Help: "Total events accepted on the publish endpoint",
	})

	PublishRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pusherd_publish_rejected_total",
		Help: "Total rejected publish requests by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsFailed)

	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(BytesSent)
	prometheus.MustRegister(BytesReceived)

	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(SubscriptionErrors)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(ClientEventsTotal)

	prometheus.MustRegister(PublishedEvents)
	prometheus.MustRegister(PublishRejected)
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
