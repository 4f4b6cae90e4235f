package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passkeep_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "passkeep_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	rateLimitRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passkeep_ratelimit_rejects_total",
		Help: "Requests rejected by the rate limiter, by policy.",
	}, []string{"policy"})

	itemsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passkeep_vault_items_total",
		Help: "Number of live vault items.",
	})

	activeShareLinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passkeep_share_links_active",
		Help: "Number of unrevoked, unexpired share links.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, rateLimitRejects, itemsTotal, activeShareLinks)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
