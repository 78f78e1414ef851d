package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
)

func newTestAppMetrics(t *testing.T) (*AppMetrics, MetricsCollector) {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "demandmap"}, logging.NewNopLogger())
	require.NoError(t, err)
	return NewAppMetrics(c), c
}

func TestNewAppMetricsRegistersEverything(t *testing.T) {
	m, c := newTestAppMetrics(t)
	require.NotNil(t, m)

	RecordHTTPRequest(m, "POST", "/api/v1/fits", 200, 120*time.Millisecond)
	RecordFitRun(m, "api", "converged", 200, 12, 3*time.Second)
	RecordServiceLevels(m, map[string]int{"underserved": 4, "balanced": 190, "overserved": 6})
	RecordDBQuery(m, "fit_runs", "insert", 5*time.Millisecond, nil)
	RecordDBQuery(m, "fit_runs", "insert", 5*time.Millisecond, errors.New("down"))
	RecordCacheAccess(m, "fit_results", true)
	RecordCacheAccess(m, "fit_results", false)
	RecordError(m, "worker", "FIT_002")

	body := scrape(t, c)
	assert.Contains(t, body, `demandmap_http_requests_total{method="POST",path="/api/v1/fits",status_code="200"} 1`)
	assert.Contains(t, body, `demandmap_fit_runs_total{status="converged",trigger="api"} 1`)
	assert.Contains(t, body, `demandmap_units_by_service_level{classification="underserved"} 4`)
	assert.Contains(t, body, `demandmap_cache_hits_total{cache="fit_results"} 1`)
	assert.Contains(t, body, `demandmap_cache_misses_total{cache="fit_results"} 1`)
	assert.Contains(t, body, `demandmap_errors_total{code="COMMON_007",component="fit_runs"} 1`)
	assert.Contains(t, body, `demandmap_errors_total{code="FIT_002",component="worker"} 1`)
}

func TestRecordHelpersNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordHTTPRequest(nil, "GET", "/", 200, 0)
		RecordFitRun(nil, "cli", "error", 0, 0, 0)
		RecordServiceLevels(nil, nil)
		RecordDBQuery(nil, "r", "op", 0, nil)
		RecordCacheAccess(nil, "c", true)
		RecordError(nil, "c", "X")
	})
}
