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

	// Key validation metrics
	KeyCacheHitsTotal   prometheus.Counter
	KeyCacheMissesTotal prometheus.Counter
	KeyStoreHitsTotal   prometheus.Counter
	KeyValidationsTotal *prometheus.CounterVec

	// Key lifecycle metrics
	KeysIssuedTotal  prometheus.Counter
	KeysRotatedTotal prometheus.Counter
	KeysRevokedTotal prometheus.Counter
	KeysReapedTotal  prometheus.Counter
	ActiveKeys       prometheus.Gauge

	// Authorization metrics
	AuthRejectionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		KeyCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_key_cache_hits_total",
				Help: "Total number of API key validations served from cache",
			},
		),
		KeyCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_key_cache_misses_total",
				Help: "Total number of API key cache misses",
			},
		),
		KeyStoreHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_key_store_hits_total",
				Help: "Total number of API key validations that fell through to the store",
			},
		),
		KeyValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_key_validations_total",
				Help: "Total number of API key validation attempts by outcome",
			},
			[]string{"outcome"},
		),

		KeysIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_keys_issued_total",
				Help: "Total number of API keys issued",
			},
		),
		KeysRotatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_keys_rotated_total",
				Help: "Total number of API key rotations",
			},
		),
		KeysRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_keys_revoked_total",
				Help: "Total number of API keys deactivated",
			},
		),
		KeysReapedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_keys_reaped_total",
				Help: "Total number of expired API keys removed by the janitor",
			},
		),
		ActiveKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_active_keys",
				Help: "Number of active API keys",
			},
		),

		AuthRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_auth_rejections_total",
				Help: "Total number of rejected requests by reason",
			},
			[]string{"reason"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.KeyCacheHitsTotal,
		m.KeyCacheMissesTotal,
		m.KeyStoreHitsTotal,
		m.KeyValidationsTotal,
		m.KeysIssuedTotal,
		m.KeysRotatedTotal,
		m.KeysRevokedTotal,
		m.KeysReapedTotal,
		m.ActiveKeys,
		m.AuthRejectionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisConnectionsActive,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
