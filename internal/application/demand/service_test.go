package demand

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/messaging/kafka"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	apperrors "github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

type mockObsStore struct {
	dataset  *demand.Dataset
	replaced *demand.Dataset
	loadErr  error
}

func (m *mockObsStore) ReplaceAll(_ context.Context, ds *demand.Dataset) error {
	m.replaced = ds
	return nil
}

func (m *mockObsStore) LoadAll(context.Context) (*demand.Dataset, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.dataset == nil {
		return &demand.Dataset{}, nil
	}
	return m.dataset, nil
}

func (m *mockObsStore) Count(context.Context) (int, error) {
	if m.dataset == nil {
		return 0, nil
	}
	return m.dataset.Len(), nil
}

type mockFitStore struct {
	savedFit       *demand.FitResult
	savedResiduals []demand.ResidualRecord
	savedRunID     string
	getFit         *demand.FitResult
	getResiduals   []demand.ResidualRecord
	getCalls       int
}

func (m *mockFitStore) SaveFit(_ context.Context, fit *demand.FitResult) error {
	m.savedFit = fit
	return nil
}

func (m *mockFitStore) GetFit(_ context.Context, runID string) (*demand.FitResult, error) {
	m.getCalls++
	if m.getFit == nil {
		return nil, apperrors.New(apperrors.ErrCodeFitNotFound, "no such run")
	}
	return m.getFit, nil
}

func (m *mockFitStore) LatestFit(context.Context) (*demand.FitResult, error) {
	if m.getFit == nil {
		return nil, apperrors.New(apperrors.ErrCodeFitNotFound, "no runs")
	}
	return m.getFit, nil
}

func (m *mockFitStore) ListFits(_ context.Context, limit int) ([]*demand.FitResult, error) {
	if m.getFit == nil {
		return nil, nil
	}
	return []*demand.FitResult{m.getFit}, nil
}

func (m *mockFitStore) SaveResiduals(_ context.Context, runID string, records []demand.ResidualRecord) error {
	m.savedRunID = runID
	m.savedResiduals = records
	return nil
}

func (m *mockFitStore) GetResiduals(_ context.Context, runID string) ([]demand.ResidualRecord, error) {
	m.getCalls++
	if m.getResiduals == nil {
		return nil, apperrors.New(apperrors.ErrCodeFitNotFound, "no such run")
	}
	return m.getResiduals, nil
}

type mockPublisher struct {
	ingested []kafka.ObservationsIngestedPayload
	fits     []kafka.FitCompletedPayload
	alerts   []kafka.UnderservedAlertPayload
}

func (m *mockPublisher) PublishObservationsIngested(_ context.Context, p kafka.ObservationsIngestedPayload) error {
	m.ingested = append(m.ingested, p)
	return nil
}

func (m *mockPublisher) PublishFitCompleted(_ context.Context, p kafka.FitCompletedPayload) error {
	m.fits = append(m.fits, p)
	return nil
}

func (m *mockPublisher) PublishUnderservedAlert(_ context.Context, p kafka.UnderservedAlertPayload) error {
	m.alerts = append(m.alerts, p)
	return nil
}

type mapCache struct {
	entries       map[string][]byte
	getOrSetCalls int
}

func newMapCache() *mapCache { return &mapCache{entries: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := c.entries[key]
	if !ok {
		return apperrors.New(apperrors.ErrCodeNotFound, "cache miss")
	}
	return json.Unmarshal(data, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *mapCache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration,
	loader func(ctx context.Context) (interface{}, error)) error {

	c.getOrSetCalls++
	if err := c.Get(ctx, key, dest); err == nil {
		return nil
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.Get(ctx, key, dest)
}

func testDataset() *demand.Dataset {
	return &demand.Dataset{Observations: []demand.Observation{
		{UnitID: "N-0000", Infrastructure: 0, ObservedCount: 5, X: 0, Y: 0},
		{UnitID: "N-0001", Infrastructure: 1, ObservedCount: 5, X: 1, Y: 0},
		{UnitID: "N-0002", Infrastructure: 2, ObservedCount: 5, X: 2, Y: 0},
	}}
}

func newTestService(obs *mockObsStore, fits *mockFitStore, opts ...Option) Service {
	return NewService(config.FitConfig{}, config.ResidualsConfig{Threshold: 2.0},
		obs, fits, logging.NewNopLogger(), opts...)
}

func TestIngestObservations(t *testing.T) {
	obs := &mockObsStore{}
	publisher := &mockPublisher{}
	svc := newTestService(obs, &mockFitStore{}, WithPublisher(publisher))

	ds := testDataset()
	require.NoError(t, svc.IngestObservations(context.Background(), ds, "csv"))

	assert.Equal(t, ds, obs.replaced)
	require.Len(t, publisher.ingested, 1)
	assert.Equal(t, 3, publisher.ingested[0].DatasetSize)
	assert.Equal(t, "csv", publisher.ingested[0].Source)
}

func TestIngestObservationsEmpty(t *testing.T) {
	svc := newTestService(&mockObsStore{}, &mockFitStore{})

	err := svc.IngestObservations(context.Background(), &demand.Dataset{}, "csv")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidData))
}

func TestRunAnalysisPersistsAndPublishes(t *testing.T) {
	obs := &mockObsStore{dataset: testDataset()}
	fits := &mockFitStore{}
	publisher := &mockPublisher{}
	cache := newMapCache()
	svc := newTestService(obs, fits, WithPublisher(publisher), WithCache(cache))

	result, err := svc.RunAnalysis(context.Background(), "api")
	require.NoError(t, err)
	require.NotNil(t, result.Fit)
	assert.True(t, result.Fit.Converged)

	_, err = uuid.Parse(result.Fit.RunID)
	assert.NoError(t, err)

	require.NotNil(t, fits.savedFit)
	assert.Equal(t, result.Fit.RunID, fits.savedFit.RunID)
	assert.Equal(t, result.Fit.RunID, fits.savedRunID)
	assert.Len(t, fits.savedResiduals, 3)

	require.Len(t, publisher.fits, 1)
	assert.Equal(t, result.Fit.RunID, publisher.fits[0].RunID)
	assert.Equal(t, 3, publisher.fits[0].DatasetSize)

	assert.Contains(t, cache.entries, "fit:"+result.Fit.RunID)
	assert.Contains(t, cache.entries, "residuals:"+result.Fit.RunID)
}

func TestRunAnalysisSummaryBalanced(t *testing.T) {
	obs := &mockObsStore{dataset: testDataset()}
	svc := newTestService(obs, &mockFitStore{})

	result, err := svc.RunAnalysis(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Summary.Balanced)
	assert.Zero(t, result.Summary.Underserved)
	assert.Zero(t, result.Summary.Overserved)
}

func TestRunAnalysisAlertsMatchSummary(t *testing.T) {
	obs := &mockObsStore{dataset: testDataset()}
	publisher := &mockPublisher{}
	// A vanishingly small threshold classifies every unit as under- or
	// overserved, so the alert count must equal the underserved count.
	svc := NewService(config.FitConfig{}, config.ResidualsConfig{Threshold: 1e-12},
		obs, &mockFitStore{}, logging.NewNopLogger(), WithPublisher(publisher))

	result, err := svc.RunAnalysis(context.Background(), "worker")
	require.NoError(t, err)
	assert.Len(t, publisher.alerts, result.Summary.Underserved)
	for _, alert := range publisher.alerts {
		assert.Equal(t, result.Fit.RunID, alert.RunID)
		assert.Negative(t, alert.StandardizedResidual)
	}
}

func TestRunAnalysisNoObservations(t *testing.T) {
	svc := newTestService(&mockObsStore{}, &mockFitStore{})

	_, err := svc.RunAnalysis(context.Background(), "api")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidData))
}

func TestAnalyzeDatasetOffline(t *testing.T) {
	fits := &mockFitStore{}
	svc := newTestService(&mockObsStore{}, fits)

	result, err := svc.AnalyzeDataset(context.Background(), testDataset())
	require.NoError(t, err)
	assert.True(t, result.Fit.Converged)
	assert.NotEmpty(t, result.Fit.RunID)
	assert.Len(t, result.Residuals, 3)

	// Offline analysis must not persist anything.
	assert.Nil(t, fits.savedFit)
}

func TestGetFitCacheHit(t *testing.T) {
	fits := &mockFitStore{}
	cache := newMapCache()
	svc := newTestService(&mockObsStore{}, fits, WithCache(cache))

	want := &demand.FitResult{RunID: "r1", Intercept: 1.5, Converged: true}
	require.NoError(t, cache.Set(context.Background(), "fit:r1", want, 0))

	got, err := svc.GetFit(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, want.Intercept, got.Intercept)
	assert.Zero(t, fits.getCalls)
	assert.Equal(t, 1, cache.getOrSetCalls)
}

func TestGetFitCacheMissFallsBack(t *testing.T) {
	fits := &mockFitStore{getFit: &demand.FitResult{RunID: "r1", Intercept: 1.5}}
	cache := newMapCache()
	svc := newTestService(&mockObsStore{}, fits, WithCache(cache))

	got, err := svc.GetFit(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Intercept)
	assert.Equal(t, 1, fits.getCalls)
	assert.Equal(t, 1, cache.getOrSetCalls)
	assert.Contains(t, cache.entries, "fit:r1")
}

func TestGetFitRequiresRunID(t *testing.T) {
	svc := newTestService(&mockObsStore{}, &mockFitStore{})

	_, err := svc.GetFit(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))
}

func TestGetFitNotFound(t *testing.T) {
	svc := newTestService(&mockObsStore{}, &mockFitStore{})

	_, err := svc.GetFit(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeFitNotFound))
}

func TestGetResidualsCached(t *testing.T) {
	fits := &mockFitStore{getResiduals: []demand.ResidualRecord{{UnitID: "a"}}}
	cache := newMapCache()
	svc := newTestService(&mockObsStore{}, fits, WithCache(cache))

	first, err := svc.GetResiduals(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, fits.getCalls)

	second, err := svc.GetResiduals(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fits.getCalls)
	assert.Equal(t, 2, cache.getOrSetCalls)
}

func TestLatestAndListFits(t *testing.T) {
	fits := &mockFitStore{getFit: &demand.FitResult{RunID: "r9"}}
	svc := newTestService(&mockObsStore{}, fits)

	latest, err := svc.LatestFit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r9", latest.RunID)

	list, err := svc.ListFits(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r9", list[0].RunID)
}
