package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts registry operations by name and outcome (ok or error kind).
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "ride_transitions_total", Help: "Ride registry operations by outcome"},
		[]string{"op", "outcome"},
	)

	MatchQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "match_queries_total", Help: "Driver matching queries"},
		[]string{"query"},
	)
	MatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "taxi_dispatch", Name: "match_latency_seconds", Help: "Match latency seconds", Buckets: prometheus.DefBuckets},
		[]string{"query"},
	)
	MatchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "taxi_dispatch", Name: "match_results", Help: "Candidates returned per matching query", Buckets: []float64{0, 1, 2, 5, 10, 20, 50}},
		[]string{"query"},
	)
	DriversAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "taxi_dispatch", Name: "drivers_available", Help: "Available drivers seen by the last matching snapshot"})

	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "events_emitted_total", Help: "Ride events accepted for delivery"},
		[]string{"event_type"},
	)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "events_dropped_total", Help: "Ride events dropped because the queue was full"})
	EventDeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "event_delivery_failures_total", Help: "Failed deliveries per transport"},
		[]string{"transport"},
	)

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "location_updates_total", Help: "Driver location updates by path"},
		[]string{"path"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxi_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
