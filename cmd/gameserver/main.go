// Package main provides the game server binary that serves the WebSocket
// frame protocol.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/config"
	"github.com/cory-johannsen/coinroll/internal/frontend/ws"
	"github.com/cory-johannsen/coinroll/internal/game/command"
	"github.com/cory-johannsen/coinroll/internal/game/gift"
	"github.com/cory-johannsen/coinroll/internal/game/session"
	"github.com/cory-johannsen/coinroll/internal/gameserver"
	"github.com/cory-johannsen/coinroll/internal/lock"
	"github.com/cory-johannsen/coinroll/internal/observability"
	"github.com/cory-johannsen/coinroll/internal/server"
	"github.com/cory-johannsen/coinroll/internal/storage/backend"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file; empty = defaults and environment only")
	healthInterval := flag.Duration("health-interval", 30*time.Second, "store health check interval")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("ws_path", cfg.Server.WSPath),
		zap.String("driver", cfg.Database.Driver),
		zap.String("lock_backend", cfg.Lock.Backend),
	)

	store, err := backend.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}

	locker, closeLocker, err := lock.Open(ctx, cfg.Lock, logger)
	if err != nil {
		logger.Fatal("opening lock backend", zap.Error(err))
	}

	ids, err := session.NewIDGenerator(cfg.Session.IDStrategy, cfg.Session.IDSecret)
	if err != nil {
		logger.Fatal("creating player id generator", zap.Error(err))
	}

	gifts := gift.NewCoordinator(store, locker, logger.Named("gift"))
	registry := session.NewRegistry(store, locker, gifts, ids, session.Config{
		StartingCoins: cfg.Session.StartingCoins,
		StartingRolls: cfg.Session.StartingRolls,
	}, logger.Named("session"))

	dispatcher, err := command.NewDispatcher(
		command.DefaultRegistry(),
		command.DefaultHandlers(registry, gifts, logger.Named("command")),
		logger.Named("command"),
	)
	if err != nil {
		logger.Fatal("building command dispatcher", zap.Error(err))
	}

	handler := gameserver.NewConnectionHandler(dispatcher, registry, cfg.RateLimit, logger.Named("conn"))
	acceptor := ws.NewAcceptor(cfg.Server, handler, store, logger.Named("ws"))

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	healthStop := make(chan struct{})
	lifecycle.Add("store-health", &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(*healthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-healthStop:
					return nil
				case <-ticker.C:
					if err := store.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("store health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func() { close(healthStop) },
	})

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	lifecycle.OnShutdown("logout-all", func(ctx context.Context) error {
		n, err := registry.LogoutAll(ctx)
		logger.Info("logged out remaining players", zap.Int("count", n))
		return err
	})
	lifecycle.OnShutdown("lock", func(context.Context) error { return closeLocker() })
	lifecycle.OnShutdown("store", func(context.Context) error { return store.Close() })

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
