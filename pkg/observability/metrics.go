package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Report metrics
	ReportRequestsTotal *prometheus.CounterVec
	ReportDuration      *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Scheduler metrics
	WarmRunsTotal   *prometheus.CounterVec
	WarmLastSuccess prometheus.Gauge

	// Database metrics
	DBConnectionsOpen         prometheus.Gauge
	DBConnectionsInUse        prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		// Report metrics
		ReportRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engage_report_requests_total",
				Help: "Total number of analytics report computations",
			},
			[]string{"report", "status"},
		),
		ReportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engage_report_duration_seconds",
				Help:    "Analytics report computation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"report"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engage_cache_hits_total",
				Help: "Total number of analytics cache hits",
			},
			[]string{"report"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engage_cache_misses_total",
				Help: "Total number of analytics cache misses",
			},
			[]string{"report"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engage_cache_errors_total",
				Help: "Total number of analytics cache failures served as misses",
			},
			[]string{"report", "operation"},
		),

		// Scheduler metrics
		WarmRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engage_cache_warm_runs_total",
				Help: "Total number of scheduled cache warm runs",
			},
			[]string{"status"},
		),
		WarmLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engage_cache_warm_last_success_timestamp_seconds",
				Help: "Unix time of the last successful cache warm run",
			},
		),

		// Database metrics
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engage_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engage_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engage_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engage_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engage_db_connections_wait_duration_seconds",
				Help: "Total time blocked waiting for a new connection",
			},
		),

		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engage_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engage_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.ReportRequestsTotal,
		m.ReportDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.WarmRunsTotal,
		m.WarmLastSuccess,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RecordCacheResult counts a cache lookup for report
func (m *Metrics) RecordCacheResult(report string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(report).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(report).Inc()
}

// RecordCacheError counts a cache failure that was served as a miss
func (m *Metrics) RecordCacheError(report, op string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(report, op).Inc()
}

// RecordReport records one report computation
func (m *Metrics) RecordReport(report string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ReportRequestsTotal.WithLabelValues(report, status).Inc()
	m.ReportDuration.WithLabelValues(report).Observe(duration.Seconds())
}

// RecordWarm records one scheduled warm run finishing at now
func (m *Metrics) RecordWarm(now time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.WarmRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.WarmRunsTotal.WithLabelValues("success").Inc()
	m.WarmLastSuccess.Set(float64(now.Unix()))
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
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

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the matched route template when one exists.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
