// Package metrics exposes Prometheus instrumentation for the resolution
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionsTotal counts finished resolutions by reported outcome state
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outcome_resolutions_total",
			Help: "Resolutions persisted, labeled by outcome state",
		},
		[]string{"state"},
	)

	// FetchErrorsTotal counts candle fetch failures during resolution
	FetchErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outcome_fetch_errors_total",
			Help: "Candle fetch failures observed while resolving",
		},
	)

	// ShortCircuitsTotal counts long-horizon resolutions settled from the
	// base horizon without a market data fetch
	ShortCircuitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outcome_short_circuits_total",
			Help: "Long-horizon resolutions settled from the base horizon",
		},
	)

	// IntegrityViolationsTotal counts invariant violations found by the
	// periodic integrity sweep
	IntegrityViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outcome_integrity_violations_total",
			Help: "Dataset invariant violations, labeled by rule",
		},
		[]string{"rule"},
	)

	// BatchDuration observes wall time of one full scheduler pass
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outcome_batch_duration_seconds",
			Help:    "Duration of one scheduler pass over all horizons",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// PendingPairs tracks the number of unresolved (signal, horizon) rows
	PendingPairs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outcome_pending_pairs",
			Help: "Unresolved signal/horizon pairs in the store",
		},
	)

	// StaleResets counts rows force-reset by the resolve-version gate
	StaleResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outcome_stale_resets_total",
			Help: "Rows reset for recompute by the version gate",
		},
	)
)
