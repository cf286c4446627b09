// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamRequests counts inference calls by backend and outcome
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lingo",
		Name:      "upstream_requests_total",
		Help:      "Inference requests sent upstream, by backend and outcome.",
	}, []string{"backend", "outcome"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lingo",
		Name:      "upstream_request_duration_seconds",
		Help:      "Latency of inference requests.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"backend"})

	// ConversationMessages counts chat messages by role
	ConversationMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lingo",
		Name:      "conversation_messages_total",
		Help:      "Messages appended to conversations, by role.",
	}, []string{"role"})

	// RejectedSubmissions counts submissions refused before reaching upstream
	RejectedSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lingo",
		Name:      "conversation_rejected_submissions_total",
		Help:      "Submissions rejected by reason.",
	}, []string{"reason"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lingo",
		Name:      "websocket_connections",
		Help:      "Open chat WebSocket connections.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lingo",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route template, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lingo",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// ObserveUpstream records the outcome and latency of one inference call
func ObserveUpstream(backend, outcome string, started time.Time) {
	UpstreamRequests.WithLabelValues(backend, outcome).Inc()
	UpstreamDuration.WithLabelValues(backend).Observe(time.Since(started).Seconds())
}

// Handler serves the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by the mux route
// template, so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		// WebSocket upgrades need the original writer for hijacking
		if r.Header.Get("Upgrade") != "" {
			httpRequests.WithLabelValues(route, r.Method, "upgrade").Inc()
			next.ServeHTTP(w, r)
			return
		}

		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(started).Seconds())
	})
}
