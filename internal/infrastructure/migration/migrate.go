// Package migration manages the relational schema backing the event
// store, the command ledger and the processor checkpoints. It wraps
// golang-migrate with file-based SQL sources so schema history stays
// reviewable alongside the code that depends on it.
package migration

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Migrator applies versioned SQL migrations against the backing database.
type Migrator struct {
	core *migrate.Migrate
	log  *zap.Logger
}

// New builds a Migrator over an existing *sql.DB connection.
func New(db *sql.DB, migrationsPath string, log *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres migration driver: %w", err)
	}

	core, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{core: core, log: log.Named("migration")}, nil
}

// NewFromURL builds a Migrator that opens its own connection from a database URL.
func NewFromURL(databaseURL, migrationsPath string, log *zap.Logger) (*Migrator, error) {
	core, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return &Migrator{core: core, log: log.Named("migration")}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	m.log.Info("applying pending migrations")
	if err := m.core.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info("schema already current")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	m.reportVersion("schema migrated")
	return nil
}

// Down rolls back every applied migration.
func (m *Migrator) Down() error {
	m.log.Info("rolling back all migrations")
	if err := m.core.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info("nothing to roll back")
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}
	m.log.Info("schema rolled back")
	return nil
}

// Steps applies n migrations; negative n rolls back.
func (m *Migrator) Steps(n int) error {
	m.log.Info("stepping schema", zap.Int("steps", n))
	if err := m.core.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info("schema already current")
			return nil
		}
		return fmt.Errorf("migrate %d steps: %w", n, err)
	}
	m.reportVersion("schema stepped")
	return nil
}

// GoTo migrates the schema to an exact version, up or down.
func (m *Migrator) GoTo(version uint) error {
	m.log.Info("migrating to version", zap.Uint("target", version))
	if err := m.core.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info("already at target version")
			return nil
		}
		return fmt.Errorf("migrate to version %d: %w", version, err)
	}
	m.log.Info("schema migrated", zap.Uint("schema_version", version))
	return nil
}

// Version reports the current schema version. A fresh database reports
// version 0 with no error.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.core.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Force stamps the schema version without running any SQL. Only for
// recovering from a dirty state after a failed migration.
func (m *Migrator) Force(version int) error {
	m.log.Warn("forcing schema version", zap.Int("version", version))
	if err := m.core.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Drop removes every object in the database, including the event store
// tables. All recorded history is lost.
func (m *Migrator) Drop() error {
	m.log.Warn("dropping all database objects")
	if err := m.core.Drop(); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}
	return nil
}

// Close releases the migrator's source and database handles.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.core.Close()
	if sourceErr != nil {
		return fmt.Errorf("close migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migration database: %w", dbErr)
	}
	return nil
}

func (m *Migrator) reportVersion(msg string) {
	version, dirty, err := m.core.Version()
	if err != nil {
		m.log.Warn("schema changed but version unreadable", zap.Error(err))
		return
	}
	m.log.Info(msg, zap.Uint("schema_version", version), zap.Bool("dirty", dirty))
}
