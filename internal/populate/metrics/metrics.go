package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnitsProcessed tracks work units by outcome.
	UnitsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "populate_units_processed_total",
			Help: "Total number of work units processed",
		},
		[]string{"task", "result"},
	)

	// APICalls tracks calls made to the external data source.
	APICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "populate_api_calls_total",
			Help: "Total number of external API calls",
		},
		[]string{"task"},
	)

	// FetchFailures tracks classified fetch failures.
	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "populate_fetch_failures_total",
			Help: "Total number of fetch failures by kind",
		},
		[]string{"task", "kind"},
	)

	// BreakerState exposes the circuit breaker state (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "populate_breaker_state",
			Help: "Circuit breaker state per resource",
		},
		[]string{"resource"},
	)

	// RateLimitCurrent exposes the adaptive limiter's current rate.
	RateLimitCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "populate_rate_limit_current",
			Help: "Current adaptive rate limit in calls per second",
		},
		[]string{"task"},
	)

	// RunDuration tracks orchestrator run durations.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "populate_run_duration_seconds",
			Help:    "Orchestrator run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"task"},
	)
)
