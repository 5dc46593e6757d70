// Package metrics exposes Prometheus instrumentation for the stub server.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highwind_requests_total",
			Help: "Total requests served, by outcome source",
		},
		[]string{"path", "method", "status_code", "source"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highwind_request_duration_seconds",
			Help:    "Duration of stub requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status_code"},
	)

	FixtureWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highwind_fixture_writes_total",
			Help: "Total fixtures persisted to disk",
		},
		[]string{"format"},
	)

	UpstreamFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highwind_upstream_fetches_total",
			Help: "Total live fetches against the production root",
		},
		[]string{"result"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highwind_errors_total",
			Help: "Total request failures, by error type",
		},
		[]string{"path", "method", "error_type"},
	)

	ActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "highwind_active_requests",
			Help: "Number of requests currently being processed",
		},
		[]string{"method", "path"},
	)
)

// Outcome sources recorded on RequestsTotal.
const (
	SourceCached   = "cached"
	SourceFetched  = "fetched"
	SourceOverride = "override"
	SourceError    = "error"
)

// InitMetrics registers every collector exactly once. Multiple pipeline
// instances in one process share the same registry, so registration cannot
// be tied to any single instance's lifecycle.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			FixtureWritesTotal,
			UpstreamFetchesTotal,
			ErrorsTotal,
			ActiveRequests,
		)
	})
}

var registerOnce sync.Once

func PromHTTPHandler() http.Handler {
	return promhttp.Handler()
}
