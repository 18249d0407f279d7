package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ledgerTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_ledger_transactions_total",
		Help: "Total ledger transactions recorded by kind.",
	}, []string{"kind"})

	ledgerFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_ledger_flushes_total",
		Help: "Total persistence flushes by outcome.",
	}, []string{"result"})

	ledgerIntegrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_ledger_integrity_checks_total",
		Help: "Total chain integrity checks by result.",
	}, []string{"result"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pantry_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pantry_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pantry_rate_limited_requests_total",
		Help: "Total requests rejected by the per-IP rate limiter.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordTransaction counts a committed ledger transaction. Wire to
// ledger.WithTransactionRecorder.
func RecordTransaction(kind string) {
	ledgerTransactionsTotal.WithLabelValues(kind).Inc()
}

// RecordFlush counts a persistence flush outcome. Wire to
// ledger.WithFlushRecorder.
func RecordFlush(ok bool) {
	if ok {
		ledgerFlushesTotal.WithLabelValues("success").Inc()
	} else {
		ledgerFlushesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordIntegrityCheck counts a chain verification result.
func RecordIntegrityCheck(ok bool) {
	if ok {
		ledgerIntegrityChecksTotal.WithLabelValues("ok").Inc()
	} else {
		ledgerIntegrityChecksTotal.WithLabelValues("violation").Inc()
	}
}
