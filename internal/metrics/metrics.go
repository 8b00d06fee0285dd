// Package metrics exposes the engine's Prometheus instrumentation. All
// collectors register on the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsProcessed counts readings that completed the pipeline.
	ReadingsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motorwatch_readings_processed_total",
		Help: "Readings that completed the processing pipeline.",
	}, []string{"source"})

	// ReadingsRejected counts payloads the normalizer refused.
	ReadingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motorwatch_readings_rejected_total",
		Help: "Raw payloads rejected by validation.",
	}, []string{"source"})

	// AlertsRaised counts newly created or re-fired maintenance alerts.
	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motorwatch_alerts_raised_total",
		Help: "Maintenance alerts created or updated, by category.",
	}, []string{"category"})

	// AnomaliesFlagged counts readings flagged by the anomaly detector.
	AnomaliesFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motorwatch_anomalies_flagged_total",
		Help: "Readings flagged anomalous against the rolling window.",
	})

	// PersistRetries counts store write attempts beyond the first.
	PersistRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motorwatch_persist_retries_total",
		Help: "Store write retries after a failed attempt.",
	})

	// PersistFailures counts units whose retry budget was exhausted.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motorwatch_persist_failures_total",
		Help: "Units that exhausted the persistence retry budget.",
	})

	// OverflowDropped counts units dropped from the overflow buffer.
	OverflowDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motorwatch_overflow_dropped_total",
		Help: "Unpersisted units dropped because the overflow buffer was full.",
	})

	// SubscriberDrops counts WebSocket clients disconnected for falling
	// behind.
	SubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motorwatch_subscriber_drops_total",
		Help: "Subscribers disconnected because their buffer overflowed.",
	})

	// HealthScore tracks the latest category and overall scores.
	HealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "motorwatch_health_score",
		Help: "Latest health score by category.",
	}, []string{"category"})

	// SourceUp reports per-source liveness (1 connected, 0 otherwise).
	SourceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "motorwatch_source_up",
		Help: "Source connectivity: 1 when CONNECTED, 0 when degraded or lost.",
	}, []string{"source"})
)
