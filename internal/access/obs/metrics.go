// Package obs exposes the Prometheus metrics of the access layer. A nil
// *Metrics is valid and records nothing, so core services can be built
// without a registry in tests.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trackgate"

type Metrics struct {
	decisions    *prometheus.CounterVec
	tokenOps     *prometheus.CounterVec
	auditDropped prometheus.Counter
	auditFailed  *prometheus.CounterVec
	swept        prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Authorization decisions by action, outcome and reason.",
		}, []string{"action", "outcome", "reason"}),

		tokenOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_operations_total",
			Help:      "Token lifecycle operations by operation and result.",
		}, []string{"op", "result"}),

		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Decisions dropped because the audit queue was full.",
		}),

		auditFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sink_failures_total",
			Help:      "Decisions an audit sink failed to write.",
		}, []string{"sink"}),

		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_purged_total",
			Help:      "Expired credential records removed by housekeeping.",
		}),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.decisions,
		m.tokenOps,
		m.auditDropped,
		m.auditFailed,
		m.swept,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Decision(d domain.Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Action), string(d.Outcome), string(d.Reason)).Inc()
}

func (m *Metrics) TokenOp(op, result string) {
	if m == nil {
		return
	}
	m.tokenOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) AuditSinkFailed(sink string) {
	if m == nil {
		return
	}
	m.auditFailed.WithLabelValues(sink).Inc()
}

func (m *Metrics) CredentialsPurged(n int) {
	if m == nil {
		return
	}
	m.swept.Add(float64(n))
}

// Instrument records request count, latency and in-flight requests. Routes
// are labelled by their mux pattern to keep cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
