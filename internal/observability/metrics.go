package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	accessCacheHits     prometheus.Counter
	accessCacheMisses   prometheus.Counter
	accessInvalidations *prometheus.CounterVec
	hierarchyMutations  *prometheus.CounterVec
	resolutionDuration  prometheus.Histogram
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_http_requests_total",
		Help: "HTTP request count by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentra_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentra_access_cache_hits_total",
		Help: "Effective-permission cache hits.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentra_access_cache_misses_total",
		Help: "Effective-permission cache misses.",
	})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_access_cache_invalidations_total",
		Help: "Effective-permission cache invalidations by scope.",
	}, []string{"scope"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_hierarchy_mutations_total",
		Help: "Role hierarchy mutations by operation.",
	}, []string{"op"})
	resolution := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentra_resolution_duration_seconds",
		Help:    "Effective-permission resolution duration.",
		Buckets: prometheus.DefBuckets,
	})
	registry.MustRegister(requests, duration, cacheHits, cacheMisses, invalidations, mutations, resolution)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		accessCacheHits:     cacheHits,
		accessCacheMisses:   cacheMisses,
		accessInvalidations: invalidations,
		hierarchyMutations:  mutations,
		resolutionDuration:  resolution,
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

// AccessCacheHit counts a served-from-cache resolution.
func (m *Metrics) AccessCacheHit() {
	if m == nil {
		return
	}
	m.accessCacheHits.Inc()
}

// AccessCacheMiss counts a recomputed resolution.
func (m *Metrics) AccessCacheMiss() {
	if m == nil {
		return
	}
	m.accessCacheMisses.Inc()
}

// AccessCacheInvalidation counts an eviction; scope is "all" or "user".
func (m *Metrics) AccessCacheInvalidation(scope string) {
	if m == nil {
		return
	}
	m.accessInvalidations.WithLabelValues(scope).Inc()
}

// HierarchyMutation counts a role hierarchy edit.
func (m *Metrics) HierarchyMutation(op string) {
	if m == nil {
		return
	}
	m.hierarchyMutations.WithLabelValues(op).Inc()
}

// ObserveResolution records how long one permission resolution took.
func (m *Metrics) ObserveResolution(d time.Duration) {
	if m == nil {
		return
	}
	m.resolutionDuration.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
