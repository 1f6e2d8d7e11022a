// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the detection pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts completed detection ticks by outcome.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vy_detection_ticks_total",
		Help: "Total number of detection ticks, by outcome (ok/error).",
	}, []string{"outcome"})

	// TickSkippedTotal counts ticks dropped because the previous tick
	// for the same device was still in flight.
	TickSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vy_detection_tick_skipped_total",
		Help: "Total number of detection ticks skipped due to an in-flight tick.",
	})

	// TickErrorsTotal counts transient tick failures by stage.
	TickErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vy_detection_tick_errors_total",
		Help: "Total number of transient tick failures, by stage (capture/thresholds/detect/publish/status).",
	}, []string{"stage"})

	// EventsPublishedTotal counts published security events by severity.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vy_events_published_total",
		Help: "Total number of security events published, by severity.",
	}, []string{"severity"})

	// SnapshotFailuresTotal counts snapshot persistence failures. Events
	// are still submitted without an image reference.
	SnapshotFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vy_snapshot_failures_total",
		Help: "Total number of snapshot persistence failures.",
	})

	// ActiveStreams tracks the current number of registry entries.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vy_active_streams",
		Help: "Current number of active stream registry entries.",
	})

	// SupervisorFailuresTotal counts fatal transcode process failures.
	SupervisorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vy_supervisor_failures_total",
		Help: "Total number of fatal transcode supervisor failures.",
	})

	// DetectDuration observes the latency of detection-service calls.
	DetectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vy_detect_duration_seconds",
		Help:    "Latency of detection-service calls in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)
