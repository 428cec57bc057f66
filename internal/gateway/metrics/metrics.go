// Package metrics is the thread-safe Prometheus counter/gauge collector for
// broadcasts, connections, events, lock cleanups, and the outbox pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector wraps every counter/gauge the gateway and outbox processor
// report through /metrics. All fields are promauto-registered against the
// Registerer passed to New (none when it is nil), matching the style used
// across the retrieved pack.
type Collector struct {
	BroadcastsTotal           prometheus.Counter
	BroadcastsFailed          prometheus.Counter
	BroadcastsFailedRecipients prometheus.Counter
	BroadcastsRateLimited     prometheus.Counter

	ConnectionsRejectedLimit     prometheus.Counter
	ConnectionsRejectedRateLimit prometheus.Counter
	ConnectionsRejectedAuth      prometheus.Counter
	ConnectionsTimeouts          prometheus.Counter
	ConnectionsActive            prometheus.Gauge

	EventsProcessed       prometheus.Counter
	EventsDropped         prometheus.Counter
	EventsInvalidSchema   prometheus.Counter
	EventsCallbackTimeout prometheus.Counter

	LocksCleaned prometheus.Counter

	OutboxPublished  prometheus.Counter
	OutboxFailed     prometheus.Counter
	OutboxRetried    prometheus.Counter
	OutboxBatchSize  prometheus.Histogram

	CircuitBreakerState *prometheus.GaugeVec
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registry across parallel test binaries.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_broadcasts_total", Help: "Total broadcast operations attempted.",
		}),
		BroadcastsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_broadcasts_failed_total", Help: "Broadcast operations with at least one failed recipient.",
		}),
		BroadcastsFailedRecipients: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_broadcasts_failed_recipients_total", Help: "Total individual recipient send failures.",
		}),
		BroadcastsRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_broadcasts_rate_limited_total", Help: "Broadcasts dropped by the global broadcast rate limit.",
		}),
		ConnectionsRejectedLimit: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_rejected_limit_total", Help: "Connections rejected for exceeding global or per-user capacity.",
		}),
		ConnectionsRejectedRateLimit: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_rejected_rate_limit_total", Help: "Connections closed for exceeding the per-connection message rate.",
		}),
		ConnectionsRejectedAuth: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_rejected_auth_total", Help: "Connections rejected for authentication or origin failures.",
		}),
		ConnectionsTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_timeouts_total", Help: "Connections closed for receive-timeout or heartbeat-timeout.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active", Help: "Current live connection count.",
		}),
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_processed_total", Help: "Events successfully dispatched from the bus queue.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_dropped_total", Help: "Events dropped from the bounded dispatch queue (oldest-drop).",
		}),
		EventsInvalidSchema: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_invalid_schema_total", Help: "Bus messages that failed event value-object validation.",
		}),
		EventsCallbackTimeout: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_callback_timeout_total", Help: "Event dispatch callbacks that exceeded their timeout.",
		}),
		LocksCleaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_locks_cleaned_total", Help: "Lock shards reclaimed by the cleanup sweep.",
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total", Help: "Outbox rows successfully published to the bus.",
		}),
		OutboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "outbox_failed_total", Help: "Outbox rows moved to FAILED after exceeding max retries.",
		}),
		OutboxRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "outbox_retry_total", Help: "Outbox rows reverted to PENDING after a failed publish attempt.",
		}),
		OutboxBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "outbox_claim_batch_size", Help: "Number of rows claimed per processor poll cycle.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state", Help: "0=closed 1=half_open 2=open, per breaker name.",
		}, []string{"breaker"}),
	}
}
