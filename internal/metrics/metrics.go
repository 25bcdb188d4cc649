// Package metrics provides Prometheus instrumentation for the
// reliability core. Collectors live on the default registry so an
// embedding process can expose them with promhttp alongside its own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts records accepted by the pipeline.
	// Labels: severity
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "logger",
			Name:      "events_total",
			Help:      "Total number of records accepted by the logging pipeline",
		},
		[]string{"severity"},
	)

	// EventsDropped counts records that never reached durable storage.
	// Labels: reason (sampled, invalid, level, degraded, encode)
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "logger",
			Name:      "events_dropped_total",
			Help:      "Total number of records dropped before buffering",
		},
		[]string{"reason"},
	)

	// FlushTotal counts buffer flush attempts.
	// Labels: result (success, error, empty)
	FlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "logger",
			Name:      "flush_total",
			Help:      "Total number of buffer flush attempts",
		},
		[]string{"result"},
	)

	// FlushDuration tracks flush latency.
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsgate",
			Subsystem: "logger",
			Name:      "flush_duration_seconds",
			Help:      "Duration of buffer flush operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// FlushedRecords counts records successfully persisted.
	FlushedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "logger",
			Name:      "flushed_records_total",
			Help:      "Total number of records persisted to log storage",
		},
	)

	// BreakerState exposes each circuit breaker's state
	// (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "opsgate",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	// DegradationLevel exposes the current system-wide degradation
	// level (0=none, 1=reduced, 2=minimal, 3=emergency).
	DegradationLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsgate",
			Subsystem: "resilience",
			Name:      "degradation_level",
			Help:      "Current degradation level (0=none, 1=reduced, 2=minimal, 3=emergency)",
		},
	)

	// FailuresTotal counts classified failures.
	// Labels: type
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "resilience",
			Name:      "failures_total",
			Help:      "Total number of classified telemetry failures",
		},
		[]string{"type"},
	)

	// GateChecks counts gate check executions.
	// Labels: check, result (pass, fail, skip)
	GateChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsgate",
			Subsystem: "gate",
			Name:      "checks_total",
			Help:      "Total number of gate check executions",
		},
		[]string{"check", "result"},
	)

	// GateScore exposes the overall score of the last gate run.
	GateScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsgate",
			Subsystem: "gate",
			Name:      "overall_score",
			Help:      "Overall score of the most recent gate run (0-100)",
		},
	)
)
