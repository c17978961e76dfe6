package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the API server's Prometheus collectors. Each instance owns
// its registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	LoansOpened   prometheus.Counter
	LoansReturned prometheus.Counter
	LoanConflicts prometheus.Counter
}

// NewMetrics registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		LoansOpened: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loans_opened_total",
				Help:      "Loans created",
			},
		),
		LoansReturned: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loans_returned_total",
				Help:      "Loans returned",
			},
		),
		LoanConflicts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loan_conflicts_total",
				Help:      "Loan requests rejected because the book was already borrowed",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latencies.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// knownPaths are the route labels; anything else is reported as "other".
var knownPaths = map[string]bool{
	"/health":                true,
	"/metrics":               true,
	"/api/login":             true,
	"/api/logout":            true,
	"/api/register":          true,
	"/api/me":                true,
	"/api/users":             true,
	"/api/stats":             true,
	"/api/books":             true,
	"/api/books/{id}":        true,
	"/api/loans":             true,
	"/api/loans/{id}":        true,
	"/api/loans/{id}/return": true,
}

// normalizePath replaces ids with placeholders to bound label cardinality.
//
//	/api/books/42        -> /api/books/{id}
//	/api/loans/7/return  -> /api/loans/{id}/return
//	/no/such/route       -> other
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" && (parts[1] == "books" || parts[1] == "loans") {
		parts[2] = "{id}"
	}
	p := "/" + strings.Join(parts, "/")
	if !knownPaths[p] {
		return "other"
	}
	return p
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrapWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
