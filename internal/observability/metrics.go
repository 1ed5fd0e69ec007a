package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo call rate by status. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Provider failures by category (timeout, network, decoding, ...).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Store operations by operation and result (ok, constraint, not_found, error).
	StoreOperationsTotal *prometheus.CounterVec

	// Store latency per operation.
	StoreOperationDuration *prometheus.HistogramVec

	// Completed sync passes by result (ok, list_failed).
	SyncPassesTotal *prometheus.CounterVec

	// Wall time of one sync pass. Watch for: passes approaching the interval.
	SyncPassDuration prometheus.Histogram

	// Per-city sync outcomes (inserted, duplicate, fetch_failed, store_failed).
	SyncCityOutcomesTotal *prometheus.CounterVec

	// 1 while a pass is in progress, 0 while idle.
	SyncState prometheus.Gauge

	// Catalog operations by operation and outcome.
	CatalogOperationsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state for the weather API (0 closed, 1 half-open, 2 open).
	CircuitBreakerState prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather API failures by error category",
		},
		[]string{"category"},
	)
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeOperationsTotal",
			Help: "Store operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "Store operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
	SyncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncPassesTotal",
			Help: "Completed sync passes by result",
		},
		[]string{"result"},
	)
	SyncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncPassDurationSeconds",
			Help:    "Duration of one full sync pass in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	SyncCityOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncCityOutcomesTotal",
			Help: "Per-city sync outcomes",
		},
		[]string{"outcome"},
	)
	SyncState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncState",
			Help: "Synchronizer state: 0 idle, 1 syncing",
		},
	)
	CatalogOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogOperationsTotal",
			Help: "Catalog operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Weather API circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIErrorsTotal,
		StoreOperationsTotal, StoreOperationDuration,
		SyncPassesTotal, SyncPassDuration, SyncCityOutcomesTotal, SyncState,
		CatalogOperationsTotal,
		RateLimitDeniedTotal, CircuitBreakerState,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
