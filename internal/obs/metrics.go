// Package obs holds the Prometheus collectors shared by the portal components.
package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics records nothing.
type Metrics struct {
	gatewayRequests    *prometheus.CounterVec
	gatewayDuration    *prometheus.HistogramVec
	sessionTransitions *prometheus.CounterVec
	maintenancePolls   *prometheus.CounterVec
	httpInFlight       prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrportal_gateway_requests_total",
			Help: "Backend API calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hrportal_gateway_request_duration_seconds",
			Help:    "Backend API call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrportal_session_transitions_total",
			Help: "Session status changes by target status and reason.",
		}, []string{"status", "reason"}),
		maintenancePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrportal_maintenance_polls_total",
			Help: "Platform configuration polls by outcome.",
		}, []string{"outcome"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hrportal_http_in_flight_requests",
			Help: "In-flight portal HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrportal_http_requests_total",
			Help: "Portal HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hrportal_http_request_duration_seconds",
			Help:    "Portal HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.gatewayRequests, m.gatewayDuration,
			m.sessionTransitions, m.maintenancePolls,
			m.httpInFlight, m.httpRequests, m.httpDuration,
		)
	}
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns collectors registered on the global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Handler exposes the global registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveGatewayRequest records one backend call.
func (m *Metrics) ObserveGatewayRequest(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	m.gatewayDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// SessionTransition records a committed session status change.
func (m *Metrics) SessionTransition(status, reason string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(status, reason).Inc()
}

// MaintenancePoll records a platform configuration poll.
func (m *Metrics) MaintenancePoll(outcome string) {
	if m == nil {
		return
	}
	m.maintenancePolls.WithLabelValues(outcome).Inc()
}

// Instrument wraps next with request count, latency and in-flight tracking.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath bounds label cardinality to the portal's fixed endpoints.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch path {
	case "/login", "/logout", "/session", "/navigate", "/register", "/metrics", "/healthz":
		return path
	case "":
		return "/"
	default:
		return "other"
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
