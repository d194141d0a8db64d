package lock

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/config"
)

// Open returns the Locker selected by cfg.Backend along with a function that
// releases its resources.
//
// Precondition: cfg must have passed config validation.
// Postcondition: On success the caller must call the returned function once
// the locker is no longer used.
func Open(ctx context.Context, cfg config.LockConfig, logger *zap.Logger) (Locker, func() error, error) {
	switch cfg.Backend {
	case config.LockLocal, "":
		return NewLocal(), func() error { return nil }, nil
	case config.LockRedis:
		r, err := NewRedis(ctx, RedisConfig{
			URL:           cfg.RedisURL,
			Prefix:        cfg.Prefix,
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
