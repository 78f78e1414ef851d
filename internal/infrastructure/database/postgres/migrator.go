package postgres

import (
	"database/sql"

	"github.com/golang-migrate/migrate/v4"

	"github.com/urbanpulse/demandmap/pkg/errors"
)

// RollbackMigration rolls the schema back by the given number of steps.
// Intended for development and test databases.
func RollbackMigration(db *sql.DB, migrationsDir string, steps int) error {
	if steps <= 0 {
		return errors.InvalidData("rollback steps must be positive").
			WithDetailf("steps=%d", steps)
	}

	m, err := newMigrator(db, migrationsDir)
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil {
		if err == migrate.ErrNoChange {
			return errors.Internal("no migrations to roll back")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to roll back migrations")
	}
	return nil
}

// MigrationStatus reports the current schema version and whether a previous
// migration failed partway ("dirty").
func MigrationStatus(db *sql.DB, migrationsDir string) (version uint, dirty bool, err error) {
	m, merr := newMigrator(db, migrationsDir)
	if merr != nil {
		return 0, false, merr
	}

	version, dirty, err = m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, errors.ErrCodeInternal, "failed to read migration version")
	}
	return version, dirty, nil
}

// ForceMigrationVersion overrides the recorded schema version without running
// migrations.  Recovery tool for a dirty state only.
func ForceMigrationVersion(db *sql.DB, migrationsDir string, version int) error {
	m, err := newMigrator(db, migrationsDir)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to force migration version")
	}
	return nil
}
