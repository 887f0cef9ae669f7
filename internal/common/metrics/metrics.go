// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_events_processed_total",
			Help: "Total number of property change events processed",
		},
		[]string{"outcome"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_events_failed_total",
			Help: "Total number of property change events that failed",
		},
		[]string{"error_code"},
	)

	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alerts_event_duration_seconds",
			Help:    "Time spent taking one event through classification, matching and dispatch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	Matches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_matches_total",
			Help: "Saved searches matched, by alert reason",
		},
		[]string{"reason"},
	)

	SearchesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_searches_skipped_total",
			Help: "Saved searches skipped during evaluation",
		},
		[]string{"error_code"},
	)

	JobsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_jobs_emitted_total",
			Help: "Notification jobs emitted, by channel",
		},
		[]string{"channel"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Candidate alerts dropped by preferences or the suppression window",
		},
		[]string{"cause"},
	)

	IntakeQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alerts_intake_queue_depth",
			Help: "Events waiting per intake worker",
		},
		[]string{"worker"},
	)

	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_catalog_saved_searches",
			Help: "Active saved searches held by the catalog",
		},
	)
)
