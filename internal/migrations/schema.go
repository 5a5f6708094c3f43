package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

// State describes where the schema currently stands.
type State struct {
	Version uint
	Dirty   bool
	Fresh   bool
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. Calling it on an up to date
// schema is a no-op.
func Up(db *sql.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	before, err := status(m)
	if err != nil {
		logger.Warn("migrations: unable to determine current version", zap.Error(err))
	} else if before.Fresh {
		logger.Info("migrations: no existing migration version (fresh database)")
	} else {
		logger.Info("migrations: current schema version", zap.Uint("version", before.Version), zap.Bool("dirty", before.Dirty))
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("migrations: database is up to date", zap.Uint("version", before.Version))
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if after, err := status(m); err == nil {
		logger.Info("migrations: applied", zap.Uint("version", after.Version))
	}
	return nil
}

// Status reports the schema version recorded by golang-migrate.
func Status(db *sql.DB) (State, error) {
	m, err := newMigrator(db)
	if err != nil {
		return State{}, err
	}
	return status(m)
}

func status(m *migrate.Migrate) (State, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return State{Fresh: true}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("migrations: read version: %w", err)
	}
	return State{Version: v, Dirty: dirty}, nil
}

// FixDirtyDatabase clears the dirty flag by forcing the previous version, so
// the failed migration is retried by the next Up.
func FixDirtyDatabase(db *sql.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	st, err := status(m)
	if err != nil {
		return err
	}
	if !st.Dirty {
		logger.Info("migrations: database is not dirty", zap.Uint("version", st.Version))
		return nil
	}

	target := int(st.Version) - 1
	if target < 1 {
		target = -1
	}
	if err := m.Force(target); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", target, err)
	}
	logger.Warn("migrations: cleared dirty state", zap.Uint("dirty_version", st.Version), zap.Int("forced_version", target))
	return nil
}

// ForceVersion sets the recorded version without running any migration.
func ForceVersion(db *sql.DB, version int) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", version, err)
	}
	return nil
}
