package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the bridge's operational metrics.
type Metrics struct {
	// Event mirroring
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// Command routing
	CommandsProcessed *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec

	// Query service
	QueriesProcessed *prometheus.CounterVec

	// State replication
	StateItems *prometheus.GaugeVec
	KVWrites   *prometheus.CounterVec

	// NATS connection
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all bridge metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chanbridge",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of origin events published to the substrate",
			},
			[]string{"channel", "event"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chanbridge",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Total number of origin events dropped before publishing",
			},
			[]string{"channel", "reason"},
		),

		CommandsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chanbridge",
				Subsystem: "commands",
				Name:      "processed_total",
				Help:      "Total number of inbound commands dispatched",
			},
			[]string{"channel", "action", "status"},
		),

		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chanbridge",
				Subsystem: "commands",
				Name:      "duration_seconds",
				Help:      "Command dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"channel", "action"},
		),

		QueriesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chanbridge",
				Subsystem: "queries",
				Name:      "processed_total",
				Help:      "Total number of query requests handled",
			},
			[]string{"command", "status"},
		),

		StateItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chanbridge",
				Subsystem: "state",
				Name:      "items",
				Help:      "Number of items held in each replicated collection",
			},
			[]string{"channel", "collection"},
		),

		KVWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chanbridge",
				Subsystem: "state",
				Name:      "kv_writes_total",
				Help:      "Total number of KV snapshot writes",
			},
			[]string{"channel", "collection", "status"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chanbridge",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chanbridge",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chanbridge",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chanbridge",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

// RecordEventPublished increments the published event counter.
func (m *Metrics) RecordEventPublished(channel, event string) {
	m.EventsPublished.WithLabelValues(channel, event).Inc()
}

// RecordEventDropped increments the dropped event counter.
func (m *Metrics) RecordEventDropped(channel, reason string) {
	m.EventsDropped.WithLabelValues(channel, reason).Inc()
}

// RecordCommandProcessed increments the command counter with its outcome.
func (m *Metrics) RecordCommandProcessed(channel, action, status string) {
	m.CommandsProcessed.WithLabelValues(channel, action, status).Inc()
}

// RecordCommandDuration records how long a command dispatch took.
func (m *Metrics) RecordCommandDuration(channel, action string, d time.Duration) {
	m.CommandDuration.WithLabelValues(channel, action).Observe(d.Seconds())
}

// RecordQueryProcessed increments the query counter with its outcome.
func (m *Metrics) RecordQueryProcessed(command, status string) {
	m.QueriesProcessed.WithLabelValues(command, status).Inc()
}

// RecordStateItems sets the item count for a replicated collection.
func (m *Metrics) RecordStateItems(channel, collection string, count int) {
	m.StateItems.WithLabelValues(channel, collection).Set(float64(count))
}

// RecordKVWrite increments the KV write counter with its outcome.
func (m *Metrics) RecordKVWrite(channel, collection, status string) {
	m.KVWrites.WithLabelValues(channel, collection, status).Inc()
}

// RecordNATSStatus updates NATS connection status.
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time.
func (m *Metrics) RecordNATSRTT(rtt time.Duration) {
	m.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments the reconnection counter.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates the circuit breaker gauge.
func (m *Metrics) RecordCircuitBreakerState(open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	m.NATSCircuitBreaker.Set(value)
}
