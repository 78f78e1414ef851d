package repositories

import (
	"context"
	"database/sql"

	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// ObservationRepository persists the current observation table.  The table
// holds exactly one dataset: the set of units the next fit will run over.
type ObservationRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewObservationRepository constructs a ready-to-use ObservationRepository.
func NewObservationRepository(db *sql.DB, logger logging.Logger) *ObservationRepository {
	return &ObservationRepository{db: db, logger: logger}
}

// ReplaceAll swaps the stored dataset for ds inside one transaction, so
// readers never observe a partially-loaded table.
func (r *ObservationRepository) ReplaceAll(ctx context.Context, ds *demand.Dataset) error {
	if ds == nil || ds.Len() == 0 {
		return errors.InvalidData("dataset is empty")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear observations")
	}

	for _, o := range ds.Observations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO observations (unit_id, infrastructure, observed_count, x_coord, y_coord)
			VALUES ($1, $2, $3, $4, $5)`,
			o.UnitID, o.Infrastructure, o.ObservedCount, o.X, o.Y,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert observation").
				WithDetailf("unit_id=%s", o.UnitID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit observations")
	}
	r.logger.Info("replaced observation table", logging.Int("units", ds.Len()))
	return nil
}

// LoadAll returns the stored dataset in unit-ID order.
func (r *ObservationRepository) LoadAll(ctx context.Context) (*demand.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT unit_id, infrastructure, observed_count, x_coord, y_coord
		FROM observations
		ORDER BY unit_id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query observations")
	}
	defer rows.Close()

	ds := &demand.Dataset{}
	for rows.Next() {
		var o demand.Observation
		if err := rows.Scan(&o.UnitID, &o.Infrastructure, &o.ObservedCount, &o.X, &o.Y); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan observation")
		}
		ds.Observations = append(ds.Observations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate observations")
	}
	return ds, nil
}

// Count returns the number of stored units.
func (r *ObservationRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count observations")
	}
	return n, nil
}
