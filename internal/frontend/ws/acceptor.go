package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/config"
)

// healthTimeout bounds the store check behind /healthz.
const healthTimeout = 2 * time.Second

// SessionHandler processes one upgraded WebSocket connection.
// Implementations run the frame loop for a single client.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn *Conn) error
}

// HealthChecker reports backend reachability for /healthz.
type HealthChecker interface {
	Health(ctx context.Context, timeout time.Duration) error
}

// Acceptor serves the WebSocket endpoint and /healthz over HTTP and hands each
// upgraded connection to a SessionHandler.
type Acceptor struct {
	cfg     config.ServerConfig
	handler SessionHandler
	health  HealthChecker
	logger  *zap.Logger

	upgrader websocket.Upgrader
	router   *mux.Router

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: cfg.WSPath must start with '/'; handler and logger must be
// non-nil. health may be nil, in which case /healthz always reports ok.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.ServerConfig, handler SessionHandler, health HealthChecker, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:     cfg,
		handler: handler,
		health:  health,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are native game installs, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc(cfg.WSPath, a.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.serveHealth).Methods(http.MethodGet)
	a.router = r
	return a
}

// Handler returns the HTTP handler serving the acceptor's routes.
func (a *Acceptor) Handler() http.Handler {
	return a.router
}

// ListenAndServe starts the HTTP listener and serves until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	a.listener = listener
	a.server = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.WSPath),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-a.quit:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		a.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	a.wg.Add(1)
	go a.handleConn(raw)
}

// handleConn processes a single upgraded connection.
func (a *Acceptor) handleConn(raw *websocket.Conn) {
	defer a.wg.Done()
	start := time.Now()

	conn := NewConn(raw, a.cfg.ReadLimit, a.cfg.WriteTimeout, a.cfg.PingInterval, a.cfg.PongWait)
	defer conn.Close()
	addr := conn.RemoteAddr()

	a.logger.Info("client connected", zap.String("remote_addr", addr))
	conn.StartKeepalive()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On shutdown, cancel the session and unblock its pending read.
	go func() {
		select {
		case <-a.quit:
			cancel()
			_ = conn.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleSession(ctx, conn); err != nil {
		a.logger.Debug("session ended",
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("session ended cleanly",
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (a *Acceptor) serveHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if a.health != nil {
		if err := a.health.Health(r.Context(), healthTimeout); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// Stop gracefully stops the acceptor, closing the listener and waiting
// for all active sessions to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false

	close(a.quit)
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
