// Package metrics exposes prometheus collectors for the supply service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pharmflow_http_request_duration_seconds",
			Help:    "HTTP request latency by method, path and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	supplyOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmflow_supply_operations_total",
			Help: "Supply chain operations by type and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	allocationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmflow_allocation_failures_total",
			Help: "Allocation failures by reason.",
		},
		[]string{"reason"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmflow_events_published_total",
			Help: "Domain events published by type.",
		},
		[]string{"event_type"},
	)
)

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, path, http.StatusText(status)).
		Observe(duration.Seconds())
}

// RecordOperation counts a supply operation with its outcome ("ok" or "error").
func RecordOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	supplyOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordAllocationFailure counts a failed allocation by reason.
func RecordAllocationFailure(reason string) {
	allocationFailures.WithLabelValues(reason).Inc()
}

// RecordEventPublished counts a published domain event.
func RecordEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
