package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolution metrics
	ResolutionsTotal       *prometheus.CounterVec
	ResolutionDuration     prometheus.Histogram
	UnknownFeaturesSkipped *prometheus.CounterVec

	// Permission cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheRefreshErrors  prometheus.Counter
	CacheRefreshesTotal *prometheus.CounterVec

	// Usage metrics
	UsageIncrementsTotal *prometheus.CounterVec
	UsageContentionTotal prometheus.Counter
	UsageResetsTotal     *prometheus.CounterVec

	// Override metrics
	OverridesWrittenTotal *prometheus.CounterVec
	OverridesExpiredTotal prometheus.Counter

	// Catalog metrics
	CatalogReloadsTotal *prometheus.CounterVec
	CatalogFeatures     prometheus.Gauge
}

// NewMetrics creates and registers every metric with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlements_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_resolutions_total",
				Help: "Total number of permission map resolutions",
			},
			[]string{"status"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entitlements_resolution_duration_seconds",
				Help:    "Time spent resolving a permission map",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		UnknownFeaturesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_unknown_features_skipped_total",
				Help: "Feature references dropped during resolution because they are missing from the catalog",
			},
			[]string{"layer"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		CacheRefreshErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_cache_refresh_errors_total",
				Help: "Refresh attempts that failed",
			},
		),
		CacheRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_cache_refreshes_total",
				Help: "Refreshes that reached the resolver",
			},
			[]string{"trigger"},
		),

		UsageIncrementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_usage_increments_total",
				Help: "Total amount recorded against usage counters",
			},
			[]string{"feature"},
		),
		UsageContentionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_usage_contention_total",
				Help: "Increments that exhausted their retry budget",
			},
		),
		UsageResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_usage_resets_total",
				Help: "Usage counters reset to zero",
			},
			[]string{"scope"},
		),

		OverridesWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_overrides_written_total",
				Help: "Override create, update and delete operations",
			},
			[]string{"op", "scope"},
		),
		OverridesExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlements_overrides_expired_total",
				Help: "Expired overrides removed by cleanup",
			},
		),

		CatalogReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_catalog_reloads_total",
				Help: "Catalog file reloads",
			},
			[]string{"status"},
		),
		CatalogFeatures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "entitlements_catalog_features",
				Help: "Number of features in the active catalog",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.UnknownFeaturesSkipped,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheRefreshErrors,
		m.CacheRefreshesTotal,
		m.UsageIncrementsTotal,
		m.UsageContentionTotal,
		m.UsageResetsTotal,
		m.OverridesWrittenTotal,
		m.OverridesExpiredTotal,
		m.CatalogReloadsTotal,
		m.CatalogFeatures,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelling them by mux route template
// so path parameters do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
