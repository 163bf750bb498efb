package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metrics. 'promauto' registers them on the default registry, which
// is what the /metrics endpoint serves.

var (
	// HttpRequestsTotal counts HTTP requests, labeled by method, path, and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wingbeat_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures server response time.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wingbeat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// SwarmSteps counts simulation ticks.
	SwarmSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wingbeat_swarm_steps_total",
			Help: "Total number of swarm simulation steps",
		},
	)

	// SwarmEvents counts swarm events (spawn, sweep, merge, connect...) by kind.
	SwarmEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wingbeat_swarm_events_total",
			Help: "Swarm events by kind",
		},
		[]string{"event"},
	)

	// Tornadoes tracks the number of live tornadoes.
	Tornadoes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wingbeat_tornadoes",
			Help: "Number of tornadoes in the swarm",
		},
	)

	// LiveSubgraphs tracks subgraphs held by tornadoes or lying in the loose pool.
	LiveSubgraphs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wingbeat_live_subgraphs",
			Help: "Number of live subgraphs owned by the swarm",
		},
	)

	// DispatchTotal counts fragment dispatch attempts by outcome ("ok", "error").
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wingbeat_dispatch_total",
			Help: "Fragment dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DispatchDuration measures remote dispatch latency.
	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wingbeat_dispatch_duration_seconds",
			Help:    "Duration of fragment dispatch calls in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	// RunsCompleted counts decomposition runs reassembled successfully.
	RunsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wingbeat_runs_completed_total",
			Help: "Total number of runs whose results were reintegrated",
		},
	)

	// RunsExpired counts runs that passed their deadline before collection.
	RunsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wingbeat_runs_expired_total",
			Help: "Total number of runs that expired before collection",
		},
	)
)
