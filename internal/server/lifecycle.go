// Package server provides application lifecycle management: services started
// together, stopped in reverse order, followed by shutdown hooks.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultHookTimeout bounds each shutdown hook when none is configured.
const DefaultHookTimeout = 10 * time.Second

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start begins the service. It should block until the service is stopped
	// or an error occurs.
	Start() error
	// Stop gracefully stops the service.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Hook runs once after every service has stopped.
type Hook func(ctx context.Context) error

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started together and stopped in reverse order of registration;
// hooks then run in registration order.
type Lifecycle struct {
	logger      *zap.Logger
	hookTimeout time.Duration
	signals     []os.Signal

	mu       sync.Mutex
	services []named[Service]
	hooks    []named[Hook]
}

type named[T any] struct {
	name string
	item T
}

// NewLifecycle creates a new Lifecycle manager that shuts down on SIGINT or SIGTERM.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger:      logger,
		hookTimeout: DefaultHookTimeout,
		signals:     []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// SetHookTimeout changes the per-hook deadline.
//
// Precondition: d > 0.
func (l *Lifecycle) SetHookTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hookTimeout = d
}

// Add registers a named service for lifecycle management.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, named[Service]{name: name, item: svc})
}

// OnShutdown registers a hook that runs after all services have stopped.
//
// Precondition: name must be non-empty; hook must be non-nil.
func (l *Lifecycle) OnShutdown(name string, hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, named[Hook]{name: name, item: hook})
}

// Run starts all services and blocks until a termination signal arrives, ctx
// is cancelled, or a service fails. Services are then stopped in reverse order
// and shutdown hooks run.
//
// Postcondition: All services are stopped and all hooks have run when this
// method returns. Returns the first service failure, if any, joined with any
// hook failures.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]named[Service](nil), l.services...)
	hooks := append([]named[Hook](nil), l.hooks...)
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(services))
	for _, ns := range services {
		ns := ns
		go func() {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.item.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
				cancel()
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, l.signals...)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
		// A failing service cancels ctx after reporting; keep its error.
		select {
		case runErr = <-errCh:
		default:
		}
	}

	l.stopServices(services)
	hookErr := l.runHooks(hooks)

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return errors.Join(runErr, hookErr)
}

func (l *Lifecycle) stopServices(services []named[Service]) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))
		ns.item.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(shutdownStart)))
}

func (l *Lifecycle) runHooks(hooks []named[Hook]) error {
	l.mu.Lock()
	timeout := l.hookTimeout
	l.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := h.item(ctx)
		cancel()
		if err != nil {
			l.logger.Error("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		l.logger.Info("shutdown hook complete", zap.String("hook", h.name))
	}
	return errors.Join(errs...)
}
