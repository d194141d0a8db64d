// Package backend opens the storage.Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/config"
	"github.com/cory-johannsen/coinroll/internal/storage"
	"github.com/cory-johannsen/coinroll/internal/storage/memory"
	"github.com/cory-johannsen/coinroll/internal/storage/migrations"
	"github.com/cory-johannsen/coinroll/internal/storage/postgres"
	"github.com/cory-johannsen/coinroll/internal/storage/sqlite"
)

// Open migrates (when cfg.MigrateOnStart is set) and opens the store for
// cfg.Driver.
//
// Precondition: cfg must have passed config validation.
// Postcondition: Returns an open Store the caller must Close, or a non-nil error.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (storage.Store, error) {
	start := time.Now()

	if cfg.MigrateOnStart && cfg.Driver != config.DriverMemory {
		version, err := migrations.Up(cfg)
		if err != nil {
			return nil, fmt.Errorf("migrating %s: %w", cfg.Driver, err)
		}
		logger.Info("schema migrated",
			zap.String("driver", cfg.Driver),
			zap.Uint("version", version),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	var (
		store storage.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		var pool *postgres.Pool
		pool, err = postgres.NewPool(ctx, cfg)
		if err == nil {
			store = postgres.NewStore(pool)
		}
	case config.DriverSQLite:
		store, err = sqlite.Open(ctx, cfg.SQLitePath)
	case config.DriverMemory:
		store = memory.New()
	default:
		err = fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("store opened",
		zap.String("driver", cfg.Driver),
		zap.Duration("elapsed", time.Since(start)),
	)
	return store, nil
}
