package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Outbound REDCap call metrics, labeled by client function
	REDCapRequestSeconds *prometheus.SummaryVec
	REDCapErrorsTotal    *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Session metrics
	SessionsEstablishedTotal prometheus.Counter

	// Dependency health, 1 = reachable, 0 = unreachable
	DependencyUp *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musher_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musher_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		REDCapRequestSeconds: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "musher_redcap_request_seconds",
				Help: "Time spent making requests to REDCap",
			},
			[]string{"function"},
		),
		REDCapErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musher_redcap_errors_total",
				Help: "Total number of failed REDCap requests",
			},
			[]string{"function"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musher_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musher_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		SessionsEstablishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "musher_sessions_established_total",
				Help: "Total number of sign-ins that established a session",
			},
		),
		DependencyUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "musher_dependency_up",
				Help: "Whether a dependency is reachable (1) or not (0)",
			},
			[]string{"dependency"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.REDCapRequestSeconds,
		m.REDCapErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SessionsEstablishedTotal,
		m.DependencyUp,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TimeREDCapRequest measures fn's duration under the given function label
// and counts failures. Callers compose it at the call site.
func (m *Metrics) TimeREDCapRequest(function string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.REDCapRequestSeconds.WithLabelValues(function).Observe(time.Since(start).Seconds())
	if err != nil {
		m.REDCapErrorsTotal.WithLabelValues(function).Inc()
	}
	return err
}

// InstrumentHandler wraps an HTTP handler to record request count and
// duration under a fixed path label. The label is supplied by the router
// rather than taken from the URL to keep cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
