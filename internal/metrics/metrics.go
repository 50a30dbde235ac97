// Package metrics holds the Prometheus collectors shared by the experiment core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "article_goat"

var (
	// Assignments counts variant assignments by source (hashed, stored, fallback).
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assign",
		Name:      "total",
		Help:      "Variant assignments by source",
	}, []string{"source"})

	// EventsRecorded counts events appended to the event log.
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "recorded_total",
		Help:      "Events appended to the event log",
	}, []string{"event_type"})

	// EventsDropped counts events lost to storage failures.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because the durable write failed",
	}, []string{"event_type"})

	// OptimizeRuns counts optimizer invocations by outcome.
	// Labels: result (reallocated, unchanged, skipped, error)
	OptimizeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "autopilot",
		Name:      "runs_total",
		Help:      "Auto-pilot optimization runs by result",
	}, []string{"result"})

	// PublishAttempts counts artifact upload attempts.
	// Labels: result (success, retry, failure)
	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "attempts_total",
		Help:      "Artifact upload attempts by result",
	}, []string{"result"})

	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "duration_seconds",
		Help:      "End-to-end artifact publish latency including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)
