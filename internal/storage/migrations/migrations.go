// Package migrations embeds the schema for the postgres and sqlite backends
// and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cory-johannsen/coinroll/internal/config"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// ErrNoSchema is returned for drivers that keep no schema.
var ErrNoSchema = errors.New("driver has no schema to migrate")

// DatabaseURL returns the golang-migrate database URL for cfg.
//
// Precondition: cfg must have passed config validation.
// Postcondition: Returns ErrNoSchema for the memory driver.
func DatabaseURL(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return cfg.DSN(), nil
	case config.DriverSQLite:
		return "sqlite3://" + cfg.SQLitePath, nil
	case config.DriverMemory:
		return "", ErrNoSchema
	default:
		return "", fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// New returns a migrator for cfg's driver reading the embedded schema.
// The caller must Close it.
//
// Precondition: cfg must have passed config validation.
func New(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	url, err := DatabaseURL(cfg)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("opening embedded %s migrations: %w", cfg.Driver, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// Up applies every pending migration for cfg.
//
// Postcondition: Returns the schema version reached. A schema already at the
// latest version and the memory driver are not errors.
func Up(cfg config.DatabaseConfig) (uint, error) {
	if cfg.Driver == config.DriverMemory {
		return 0, nil
	}
	m, err := New(cfg)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("applying migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
