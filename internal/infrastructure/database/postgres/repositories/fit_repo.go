package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// FitRunRepository persists fit runs, their per-unit random effects, and the
// residual reports derived from them.  A fit run is immutable once saved.
type FitRunRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewFitRunRepository constructs a ready-to-use FitRunRepository.
func NewFitRunRepository(db *sql.DB, logger logging.Logger) *FitRunRepository {
	return &FitRunRepository{db: db, logger: logger}
}

// SaveFit stores a fit run and its random effects in one transaction.
func (r *FitRunRepository) SaveFit(ctx context.Context, fit *demand.FitResult) error {
	if fit == nil || fit.RunID == "" {
		return errors.InvalidData("fit result must carry a run ID")
	}

	var covariance []byte
	if fit.Covariance != nil {
		var err error
		covariance, err = json.Marshal(fit.Covariance)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode covariance")
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fit_runs (
			run_id, fitted_at, intercept, intercept_se,
			infra_coefficient, infra_coefficient_se,
			effect_scale, log_effect_scale_se,
			covariance, converged, iterations, gradient_norm
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		fit.RunID, fit.FittedAt, fit.Intercept, fit.InterceptSE,
		fit.InfraCoefficient, fit.InfraCoefficientSE,
		fit.EffectScale, fit.LogEffectScaleSE,
		covariance, fit.Converged, fit.Iterations, fit.GradientNorm,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert fit run").
			WithDetailf("run_id=%s", fit.RunID)
	}

	for _, e := range fit.RandomEffects {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO unit_effects (run_id, unit_id, estimate, std_err)
			VALUES ($1, $2, $3, $4)`,
			fit.RunID, e.UnitID, e.Estimate, e.StdErr,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert unit effect").
				WithDetailf("run_id=%s unit_id=%s", fit.RunID, e.UnitID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit fit run")
	}
	r.logger.Info("saved fit run",
		logging.String("run_id", fit.RunID),
		logging.Bool("converged", fit.Converged),
		logging.Int("units", len(fit.RandomEffects)),
	)
	return nil
}

// GetFit loads one fit run with its random effects.
func (r *FitRunRepository) GetFit(ctx context.Context, runID string) (*demand.FitResult, error) {
	fit, err := r.scanFit(r.db.QueryRowContext(ctx, `
		SELECT run_id, fitted_at, intercept, intercept_se,
		       infra_coefficient, infra_coefficient_se,
		       effect_scale, log_effect_scale_se,
		       covariance, converged, iterations, gradient_norm
		FROM fit_runs WHERE run_id = $1`, runID))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT unit_id, estimate, std_err
		FROM unit_effects WHERE run_id = $1
		ORDER BY unit_id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query unit effects")
	}
	defer rows.Close()

	for rows.Next() {
		var e demand.UnitEffect
		if err := rows.Scan(&e.UnitID, &e.Estimate, &e.StdErr); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan unit effect")
		}
		fit.RandomEffects = append(fit.RandomEffects, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate unit effects")
	}
	return fit, nil
}

// LatestFit loads the most recent fit run, or ErrCodeFitNotFound when none
// has been saved yet.
func (r *FitRunRepository) LatestFit(ctx context.Context) (*demand.FitResult, error) {
	var runID string
	err := r.db.QueryRowContext(ctx,
		`SELECT run_id FROM fit_runs ORDER BY fitted_at DESC LIMIT 1`).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeFitNotFound, "no fit runs recorded")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query latest fit run")
	}
	return r.GetFit(ctx, runID)
}

// ListFits returns run summaries newest-first, without random effects.
func (r *FitRunRepository) ListFits(ctx context.Context, limit int) ([]*demand.FitResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, fitted_at, intercept, intercept_se,
		       infra_coefficient, infra_coefficient_se,
		       effect_scale, log_effect_scale_se,
		       covariance, converged, iterations, gradient_norm
		FROM fit_runs ORDER BY fitted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query fit runs")
	}
	defer rows.Close()

	var fits []*demand.FitResult
	for rows.Next() {
		fit, err := r.scanFit(rows)
		if err != nil {
			return nil, err
		}
		fits = append(fits, fit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate fit runs")
	}
	return fits, nil
}

// SaveResiduals stores the residual report of one run in one transaction.
func (r *FitRunRepository) SaveResiduals(ctx context.Context, runID string, records []demand.ResidualRecord) error {
	if runID == "" {
		return errors.InvalidData("run ID is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO residuals (
				run_id, unit_id, observed_count, expected_count,
				residual, standardized_residual, classification, x_coord, y_coord
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			runID, rec.UnitID, rec.ObservedCount, rec.ExpectedCount,
			rec.Residual, rec.StandardizedResidual, string(rec.Classification), rec.X, rec.Y,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert residual").
				WithDetailf("run_id=%s unit_id=%s", runID, rec.UnitID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit residuals")
	}
	return nil
}

// GetResiduals loads the residual report of one run in unit-ID order.
func (r *FitRunRepository) GetResiduals(ctx context.Context, runID string) ([]demand.ResidualRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT unit_id, observed_count, expected_count,
		       residual, standardized_residual, classification, x_coord, y_coord
		FROM residuals WHERE run_id = $1
		ORDER BY unit_id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query residuals")
	}
	defer rows.Close()

	var records []demand.ResidualRecord
	for rows.Next() {
		var rec demand.ResidualRecord
		var classification string
		err := rows.Scan(&rec.UnitID, &rec.ObservedCount, &rec.ExpectedCount,
			&rec.Residual, &rec.StandardizedResidual, &classification, &rec.X, &rec.Y)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan residual")
		}
		rec.Classification = demand.ServiceLevel(classification)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate residuals")
	}
	if records == nil {
		return nil, errors.New(errors.ErrCodeFitNotFound, "no residuals recorded for run").
			WithDetailf("run_id=%s", runID)
	}
	return records, nil
}

// scanFit maps one fit_runs row onto a FitResult without random effects.
func (r *FitRunRepository) scanFit(row rowScanner) (*demand.FitResult, error) {
	fit := &demand.FitResult{}
	var covariance []byte
	err := row.Scan(
		&fit.RunID, &fit.FittedAt, &fit.Intercept, &fit.InterceptSE,
		&fit.InfraCoefficient, &fit.InfraCoefficientSE,
		&fit.EffectScale, &fit.LogEffectScaleSE,
		&covariance, &fit.Converged, &fit.Iterations, &fit.GradientNorm,
	)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeFitNotFound, "fit run not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan fit run")
	}
	if len(covariance) > 0 {
		if err := json.Unmarshal(covariance, &fit.Covariance); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode covariance")
		}
	}
	return fit, nil
}
