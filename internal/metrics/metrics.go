package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks order submissions by final outcome.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Total number of order submissions by outcome.",
		},
		[]string{"outcome"}, // filled | partially_filled | risk_rejected | fraud_blocked | mfa_required | broker_failed
	)

	// Measures end-to-end order submission latency.
	OrderSubmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_order_submit_duration_seconds",
			Help:    "End-to-end order submission latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"outcome"},
	)

	// Tracks fraud gate decisions by action and decision source.
	FraudDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_fraud_decisions_total",
			Help: "Total fraud decisions by action and source.",
		},
		[]string{"action", "source"}, // source = oracle | local | fail_open | fail_closed
	)

	// Measures scoring oracle call duration.
	FraudOracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_fraud_oracle_duration_seconds",
			Help:    "Duration of fraud scoring oracle calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"}, // ok | error | timeout
	)

	// Tracks telemetry events by type and result.
	TelemetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_telemetry_events_total",
			Help: "Total telemetry events by type and publish result.",
		},
		[]string{"type", "result"}, // result = ok | dropped | failed
	)

	TelemetryPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_telemetry_publish_latency_seconds",
			Help:    "Time taken to publish telemetry events to the stream.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Gauges the telemetry publish queue depth.
	TelemetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_telemetry_queue_depth",
			Help: "Current depth of the telemetry publish queue.",
		},
	)

	// Tracks broker adapter calls.
	BrokerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_broker_requests_total",
			Help: "Total broker adapter calls by operation and result.",
		},
		[]string{"op", "result"}, // op = place | update | cancel | status
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Count of engine-level errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveDuration records the elapsed time since start on the given histogram.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncOrder(outcome string) {
	OrdersTotal.WithLabelValues(outcome).Inc()
}

func IncFraudDecision(action, source string) {
	FraudDecisions.WithLabelValues(action, source).Inc()
}

func IncTelemetry(eventType, result string) {
	TelemetryEvents.WithLabelValues(eventType, result).Inc()
}

func IncBroker(op, result string) {
	BrokerRequests.WithLabelValues(op, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}
