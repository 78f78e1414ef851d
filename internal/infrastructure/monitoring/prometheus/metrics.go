package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every application metric.  A single instance is created at
// startup and shared across layers.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Inference layer
	FitRunsTotal        CounterVec
	FitDuration         HistogramVec
	FitIterations       HistogramVec
	FitDatasetSize      HistogramVec
	ResidualRunsTotal   CounterVec
	UnitsByServiceLevel GaugeVec

	// Infrastructure layer
	DBQueryDuration        HistogramVec
	DBConnectionPoolActive GaugeVec
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	MessagesProcessedTotal CounterVec
	MessageProcessDuration HistogramVec
	EventsPublishedTotal   CounterVec

	// System health
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Default bucket layouts.
var (
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultFitDurationBuckets  = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300}
	DefaultIterationBuckets    = []float64{1, 2, 5, 10, 20, 50, 100}
	DefaultDatasetSizeBuckets  = []float64{10, 50, 100, 200, 500, 1000, 5000}
	DefaultDBDurationBuckets   = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewAppMetrics registers all metrics against the collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// HTTP
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method", "path")

	// Inference
	m.FitRunsTotal = collector.RegisterCounter("fit_runs_total", "Model fitting runs", "trigger", "status")
	m.FitDuration = collector.RegisterHistogram("fit_duration_seconds", "Model fitting duration", DefaultFitDurationBuckets, "trigger")
	m.FitIterations = collector.RegisterHistogram("fit_iterations", "Newton iterations per fitting run", DefaultIterationBuckets, "trigger")
	m.FitDatasetSize = collector.RegisterHistogram("fit_dataset_units", "Number of units per fitting run", DefaultDatasetSizeBuckets, "trigger")
	m.ResidualRunsTotal = collector.RegisterCounter("residual_runs_total", "Residual diagnostic runs", "status")
	m.UnitsByServiceLevel = collector.RegisterGauge("units_by_service_level", "Units per service-level classification in the latest run", "classification")

	// Infrastructure
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "repository", "operation")
	m.DBConnectionPoolActive = collector.RegisterGauge("db_pool_active", "Database active connections", "db")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.MessagesProcessedTotal = collector.RegisterCounter("messages_processed_total", "Consumed messages", "topic", "status")
	m.MessageProcessDuration = collector.RegisterHistogram("message_process_duration_seconds", "Message processing duration", DefaultHTTPDurationBuckets, "topic")
	m.EventsPublishedTotal = collector.RegisterCounter("events_published_total", "Published events", "topic", "status")

	// System health
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors by component and code", "component", "code")

	return m
}

// Recording helpers.

// RecordHTTPRequest records one completed request.
func RecordHTTPRequest(m *AppMetrics, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFitRun records the outcome of one fitting run.  Status is one of
// "converged", "not_converged", or "error".
func RecordFitRun(m *AppMetrics, trigger, status string, units, iterations int, duration time.Duration) {
	if m == nil {
		return
	}
	m.FitRunsTotal.WithLabelValues(trigger, status).Inc()
	m.FitDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	m.FitIterations.WithLabelValues(trigger).Observe(float64(iterations))
	m.FitDatasetSize.WithLabelValues(trigger).Observe(float64(units))
}

// RecordServiceLevels overwrites the per-classification unit gauges with the
// counts from the latest residual run.
func RecordServiceLevels(m *AppMetrics, counts map[string]int) {
	if m == nil {
		return
	}
	for classification, n := range counts {
		m.UnitsByServiceLevel.WithLabelValues(classification).Set(float64(n))
	}
}

// RecordDBQuery records a repository call.
func RecordDBQuery(m *AppMetrics, repository, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(repository, operation).Observe(duration.Seconds())
	if err != nil {
		m.ErrorsTotal.WithLabelValues(repository, "COMMON_007").Inc()
	}
}

// RecordCacheAccess records a cache hit or miss.
func RecordCacheAccess(m *AppMetrics, cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordError records one classified error.
func RecordError(m *AppMetrics, component, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}
