// Package demand provides the application-level service tying the inference
// engine to storage, caching, and event publication. HTTP handlers, the CLI,
// and the worker all drive analyses through this package.
package demand

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/inference/poisson"
	"github.com/urbanpulse/demandmap/internal/infrastructure/messaging/kafka"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/prometheus"
	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// ObservationStore persists the active observation set.
type ObservationStore interface {
	ReplaceAll(ctx context.Context, ds *demand.Dataset) error
	LoadAll(ctx context.Context) (*demand.Dataset, error)
	Count(ctx context.Context) (int, error)
}

// FitStore persists fit runs and their residual diagnostics.
type FitStore interface {
	SaveFit(ctx context.Context, fit *demand.FitResult) error
	GetFit(ctx context.Context, runID string) (*demand.FitResult, error)
	LatestFit(ctx context.Context) (*demand.FitResult, error)
	ListFits(ctx context.Context, limit int) ([]*demand.FitResult, error)
	SaveResiduals(ctx context.Context, runID string, records []demand.ResidualRecord) error
	GetResiduals(ctx context.Context, runID string) ([]demand.ResidualRecord, error)
}

// EventPublisher announces analysis milestones on the message bus.
type EventPublisher interface {
	PublishObservationsIngested(ctx context.Context, payload kafka.ObservationsIngestedPayload) error
	PublishFitCompleted(ctx context.Context, payload kafka.FitCompletedPayload) error
	PublishUnderservedAlert(ctx context.Context, payload kafka.UnderservedAlertPayload) error
}

// ResultCache holds recently requested fit results and residuals.  Reads go
// through GetOrSet so concurrent requests for the same run share one storage
// load.
type ResultCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration,
		loader func(ctx context.Context) (interface{}, error)) error
}

// AnalysisResult bundles the outputs of one full analysis run.
type AnalysisResult struct {
	Fit       *demand.FitResult       `json:"fit"`
	Residuals []demand.ResidualRecord `json:"residuals"`
	Summary   ServiceSummary          `json:"summary"`
}

// ServiceSummary counts units per classification.
type ServiceSummary struct {
	Underserved int `json:"underserved"`
	Balanced    int `json:"balanced"`
	Overserved  int `json:"overserved"`
}

// Service is the demand-analysis application API.
type Service interface {
	IngestObservations(ctx context.Context, ds *demand.Dataset, source string) error
	RunAnalysis(ctx context.Context, trigger string) (*AnalysisResult, error)
	AnalyzeDataset(ctx context.Context, ds *demand.Dataset) (*AnalysisResult, error)
	GetFit(ctx context.Context, runID string) (*demand.FitResult, error)
	LatestFit(ctx context.Context) (*demand.FitResult, error)
	ListFits(ctx context.Context, limit int) ([]*demand.FitResult, error)
	GetResiduals(ctx context.Context, runID string) ([]demand.ResidualRecord, error)
}

type service struct {
	fitter       *poisson.Fitter
	fitOpts      poisson.Options
	residualOpts poisson.ResidualOptions

	observations ObservationStore
	fits         FitStore
	publisher    EventPublisher
	cache        ResultCache

	logger  logging.Logger
	metrics *prometheus.AppMetrics

	now   func() time.Time
	newID func() string
}

// Option customizes a Service.
type Option func(*service)

// WithPublisher attaches an event publisher; without one, events are skipped.
func WithPublisher(p EventPublisher) Option {
	return func(s *service) { s.publisher = p }
}

// WithCache attaches a result cache; without one, reads go to storage.
func WithCache(c ResultCache) Option {
	return func(s *service) { s.cache = c }
}

// WithMetrics attaches application metrics.
func WithMetrics(m *prometheus.AppMetrics) Option {
	return func(s *service) { s.metrics = m }
}

// NewService builds the analysis service from configuration and stores.
func NewService(fitCfg config.FitConfig, resCfg config.ResidualsConfig,
	observations ObservationStore, fits FitStore, log logging.Logger, opts ...Option) Service {

	spec := poisson.DefaultSpec()
	if fitCfg.PriorScale > 0 {
		spec.PriorScale = fitCfg.PriorScale
	}
	if fitCfg.ScalePriorShape > 0 {
		spec.ScalePriorShape = fitCfg.ScalePriorShape
	}
	if fitCfg.ScalePriorRate > 0 {
		spec.ScalePriorRate = fitCfg.ScalePriorRate
	}

	fitOpts := poisson.DefaultOptions()
	if fitCfg.MaxIter > 0 {
		fitOpts.MaxIter = fitCfg.MaxIter
	}
	if fitCfg.Tolerance > 0 {
		fitOpts.Tolerance = fitCfg.Tolerance
	}

	residualOpts := poisson.DefaultResidualOptions()
	if resCfg.Threshold > 0 {
		residualOpts.Threshold = resCfg.Threshold
	}
	if resCfg.MinExpected > 0 {
		residualOpts.MinExpected = resCfg.MinExpected
	}

	s := &service{
		fitter:       poisson.NewFitter(spec),
		fitOpts:      fitOpts,
		residualOpts: residualOpts,
		observations: observations,
		fits:         fits,
		logger:       log,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func fitCacheKey(runID string) string       { return "fit:" + runID }
func residualsCacheKey(runID string) string { return "residuals:" + runID }

const cacheTTL = 30 * time.Minute

// IngestObservations validates and stores a replacement observation set.
func (s *service) IngestObservations(ctx context.Context, ds *demand.Dataset, source string) error {
	if ds == nil || ds.Len() == 0 {
		return errors.InvalidData("observation set is empty")
	}
	if err := s.observations.ReplaceAll(ctx, ds); err != nil {
		prometheus.RecordError(s.metrics, "ingest", string(errors.GetCode(err)))
		return err
	}

	s.logger.Info("observations ingested",
		logging.Int("units", ds.Len()), logging.String("source", source))

	if s.publisher != nil {
		if err := s.publisher.PublishObservationsIngested(ctx, kafka.ObservationsIngestedPayload{
			DatasetSize: ds.Len(),
			Source:      source,
			IngestedAt:  s.now().UTC(),
		}); err != nil {
			// Ingestion succeeded; a missed event is not worth failing the call.
			s.logger.Warn("failed to publish ingest event", logging.Err(err))
		}
	}
	return nil
}

// RunAnalysis loads the stored observations, fits the model, computes
// residual diagnostics, and persists and announces the results.
func (s *service) RunAnalysis(ctx context.Context, trigger string) (*AnalysisResult, error) {
	ds, err := s.observations.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if ds.Len() == 0 {
		return nil, errors.InvalidData("no observations stored; ingest a dataset first")
	}

	start := s.now()
	result, err := s.analyze(ds)
	if err != nil {
		prometheus.RecordFitRun(s.metrics, trigger, "error", ds.Len(), 0, s.now().Sub(start))
		prometheus.RecordError(s.metrics, "analysis", string(errors.GetCode(err)))
		return nil, err
	}

	fit := result.Fit
	fit.RunID = s.newID()
	fit.FittedAt = start.UTC()

	status := "converged"
	if !fit.Converged {
		status = "not_converged"
	}
	prometheus.RecordFitRun(s.metrics, trigger, status, ds.Len(), fit.Iterations, s.now().Sub(start))
	prometheus.RecordServiceLevels(s.metrics, classificationCounts(result.Residuals))

	s.logger.Info("analysis complete",
		logging.String("run_id", fit.RunID),
		logging.String("trigger", trigger),
		logging.Bool("converged", fit.Converged),
		logging.Int("iterations", fit.Iterations),
		logging.Int("underserved", result.Summary.Underserved))

	if err := s.fits.SaveFit(ctx, fit); err != nil {
		return nil, err
	}
	if err := s.fits.SaveResiduals(ctx, fit.RunID, result.Residuals); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, fitCacheKey(fit.RunID), fit, cacheTTL); err != nil {
			s.logger.Warn("failed to cache fit", logging.Err(err))
		}
		if err := s.cache.Set(ctx, residualsCacheKey(fit.RunID), result.Residuals, cacheTTL); err != nil {
			s.logger.Warn("failed to cache residuals", logging.Err(err))
		}
	}

	s.publishAnalysisEvents(ctx, result)
	return result, nil
}

// AnalyzeDataset fits and diagnoses a dataset without touching storage or
// the message bus. The CLI uses it for file-to-file runs.
func (s *service) AnalyzeDataset(_ context.Context, ds *demand.Dataset) (*AnalysisResult, error) {
	result, err := s.analyze(ds)
	if err != nil {
		return nil, err
	}
	result.Fit.RunID = s.newID()
	result.Fit.FittedAt = s.now().UTC()
	return result, nil
}

func (s *service) analyze(ds *demand.Dataset) (*AnalysisResult, error) {
	fit, err := s.fitter.Fit(ds, s.fitOpts)
	if err != nil {
		return nil, err
	}
	records, err := poisson.ComputeResiduals(fit, ds, s.residualOpts)
	if err != nil {
		return nil, err
	}
	result := &AnalysisResult{Fit: fit, Residuals: records}
	counts := classificationCounts(records)
	result.Summary = ServiceSummary{
		Underserved: counts[string(demand.ServiceUnderserved)],
		Balanced:    counts[string(demand.ServiceBalanced)],
		Overserved:  counts[string(demand.ServiceOverserved)],
	}
	return result, nil
}

func (s *service) publishAnalysisEvents(ctx context.Context, result *AnalysisResult) {
	if s.publisher == nil {
		return
	}
	fit := result.Fit
	if err := s.publisher.PublishFitCompleted(ctx, kafka.FitCompletedPayload{
		RunID:            fit.RunID,
		Converged:        fit.Converged,
		Iterations:       fit.Iterations,
		Intercept:        fit.Intercept,
		InfraCoefficient: fit.InfraCoefficient,
		EffectScale:      fit.EffectScale,
		DatasetSize:      len(result.Residuals),
		FittedAt:         fit.FittedAt,
	}); err != nil {
		s.logger.Warn("failed to publish fit event", logging.Err(err))
	}

	for _, rec := range result.Residuals {
		if rec.Classification != demand.ServiceUnderserved {
			continue
		}
		if err := s.publisher.PublishUnderservedAlert(ctx, kafka.UnderservedAlertPayload{
			RunID:                fit.RunID,
			UnitID:               rec.UnitID,
			ObservedCount:        rec.ObservedCount,
			ExpectedCount:        rec.ExpectedCount,
			StandardizedResidual: rec.StandardizedResidual,
			DetectedAt:           fit.FittedAt,
		}); err != nil {
			s.logger.Warn("failed to publish underserved alert",
				logging.String("unit_id", rec.UnitID), logging.Err(err))
		}
	}
}

// GetFit returns one fit run, reading through the cache when one is attached.
func (s *service) GetFit(ctx context.Context, runID string) (*demand.FitResult, error) {
	if runID == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "run_id required")
	}
	if s.cache == nil {
		return s.fits.GetFit(ctx, runID)
	}

	var fit demand.FitResult
	hit := true
	err := s.cache.GetOrSet(ctx, fitCacheKey(runID), &fit, cacheTTL,
		func(ctx context.Context) (interface{}, error) {
			hit = false
			return s.fits.GetFit(ctx, runID)
		})
	prometheus.RecordCacheAccess(s.metrics, "fit", hit)
	if err != nil {
		return nil, err
	}
	return &fit, nil
}

// LatestFit returns the most recent fit run.
func (s *service) LatestFit(ctx context.Context) (*demand.FitResult, error) {
	return s.fits.LatestFit(ctx)
}

// ListFits returns recent fit runs, newest first.
func (s *service) ListFits(ctx context.Context, limit int) ([]*demand.FitResult, error) {
	return s.fits.ListFits(ctx, limit)
}

// GetResiduals returns the residual diagnostics of one run, reading through
// the cache when one is attached.
func (s *service) GetResiduals(ctx context.Context, runID string) ([]demand.ResidualRecord, error) {
	if runID == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "run_id required")
	}
	if s.cache == nil {
		return s.fits.GetResiduals(ctx, runID)
	}

	var records []demand.ResidualRecord
	hit := true
	err := s.cache.GetOrSet(ctx, residualsCacheKey(runID), &records, cacheTTL,
		func(ctx context.Context) (interface{}, error) {
			hit = false
			return s.fits.GetResiduals(ctx, runID)
		})
	prometheus.RecordCacheAccess(s.metrics, "residuals", hit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func classificationCounts(records []demand.ResidualRecord) map[string]int {
	counts := map[string]int{
		string(demand.ServiceUnderserved): 0,
		string(demand.ServiceBalanced):    0,
		string(demand.ServiceOverserved):  0,
	}
	for _, rec := range records {
		counts[string(rec.Classification)]++
	}
	return counts
}
