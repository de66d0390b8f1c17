// Package metrics holds the Prometheus collectors exported by a node.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction manager outcomes
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "privtx_transactions_total",
		Help: "Total number of transaction operations by outcome",
	}, []string{"operation", "outcome"})

	// Resend pushes
	resendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "privtx_resend_total",
		Help: "Total number of transactions pushed by resend requests",
	}, []string{"type", "status"})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "privtx_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "privtx_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Recorder feeds transaction manager outcomes into the counters.
type Recorder struct{}

// RecordOperation counts one operation outcome.
func (Recorder) RecordOperation(operation, outcome string) {
	transactionsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordResend counts pushes made for a resend request of the given type
// ("individual" or "all").
func RecordResend(resendType string, pushed int, failed bool) {
	resendTotal.WithLabelValues(resendType, "pushed").Add(float64(pushed))
	if failed {
		resendTotal.WithLabelValues(resendType, "failed").Inc()
	}
}

// RecordHTTPRequest records one served request. path should be the route
// template, not the raw URL, to keep label cardinality bounded.
func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
