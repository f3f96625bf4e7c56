// Package observability exposes Prometheus metrics for the web server, the
// role resolver and background jobs.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/orgsite/orgsite/internal/jobs"
)

// Metrics collects the application's Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	roleLookups     *prometheus.CounterVec
	roleResolution  *prometheus.HistogramVec
	roleDiscards    prometheus.Counter
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orgsite_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orgsite_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orgsite_role_lookups_total",
		Help: "Role source lookups by source and outcome.",
	}, []string{"source", "outcome"})
	resolution := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orgsite_role_resolution_seconds",
		Help:    "Time to settle a principal's role, labelled by the deciding source.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"source"})
	discards := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orgsite_role_resolution_discarded_total",
		Help: "Role resolutions dropped because the session changed principal.",
	})
	registry.MustRegister(requests, duration, lookups, resolution, discards,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		roleLookups:     lookups,
		roleResolution:  resolution,
		roleDiscards:    discards,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Jobs returns the background job metrics bound to this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// ObserveLookup counts one role source lookup.
func (m *Metrics) ObserveLookup(source, outcome string) {
	if m == nil {
		return
	}
	m.roleLookups.WithLabelValues(source, outcome).Inc()
}

// ObserveResolution records how long a resolution took to settle.
func (m *Metrics) ObserveResolution(source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.roleResolution.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveDiscard counts a resolution that arrived for a superseded principal.
func (m *Metrics) ObserveDiscard() {
	if m == nil {
		return
	}
	m.roleDiscards.Inc()
}

// TrackSessions exposes the number of sessions held by the access registry.
func (m *Metrics) TrackSessions(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "orgsite_access_sessions",
		Help: "Sessions currently tracked by the access registry.",
	}, func() float64 { return float64(count()) }))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
