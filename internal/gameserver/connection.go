// Package gameserver runs the per-connection frame loop: it parses inbound
// frames, routes them through the command dispatcher, and logs the bound
// player out when the connection ends.
package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/coinroll/internal/config"
	"github.com/cory-johannsen/coinroll/internal/frontend/ws"
	"github.com/cory-johannsen/coinroll/internal/game/command"
	"github.com/cory-johannsen/coinroll/internal/observability"
)

// Dispatcher routes one parsed command to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, c command.Client, payload json.RawMessage) error
}

// SessionCloser logs a player out when their connection ends.
type SessionCloser interface {
	Logout(ctx context.Context, playerID string) error
}

// ConnectionHandler implements ws.SessionHandler.
type ConnectionHandler struct {
	dispatcher Dispatcher
	sessions   SessionCloser
	limit      config.RateLimitConfig
	logger     *zap.Logger
}

var _ ws.SessionHandler = (*ConnectionHandler)(nil)

// NewConnectionHandler creates a ConnectionHandler.
//
// Precondition: dispatcher, sessions, and logger must be non-nil.
// Postcondition: When limit is enabled each connection is throttled to
// limit.FramesPerSecond with a burst of limit.Burst.
func NewConnectionHandler(dispatcher Dispatcher, sessions SessionCloser, limit config.RateLimitConfig, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		dispatcher: dispatcher,
		sessions:   sessions,
		limit:      limit,
		logger:     logger,
	}
}

// HandleSession runs the frame loop for conn until the peer disconnects, a
// transport error occurs, or ctx is cancelled.
//
// Postcondition: Exactly one logout attempt is made for the player bound on
// this connection, if any. Returns nil on a clean close or cancellation.
func (h *ConnectionHandler) HandleSession(ctx context.Context, conn *ws.Conn) error {
	start := time.Now()
	logger := observability.ForConnection(h.logger, conn.RemoteAddr())
	c := &client{conn: conn}

	logger.Info("session started")
	err := h.loop(ctx, c, logger)
	h.release(ctx, c, logger)

	logger.Info("session closed",
		zap.String("player_id", c.BoundPlayer()),
		zap.Duration("duration", time.Since(start)),
	)
	return err
}

func (h *ConnectionHandler) loop(ctx context.Context, c *client, logger *zap.Logger) error {
	var limiter *rate.Limiter
	if h.limit.Enabled() {
		limiter = rate.NewLimiter(rate.Limit(h.limit.FramesPerSecond), h.limit.Burst)
	}
	// Commands finish even if the connection is torn down mid-frame.
	cmdCtx := context.WithoutCancel(ctx)

	for {
		data, err := c.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || ws.IsNormalClose(err) {
				return nil
			}
			return err
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		if err := h.handleFrame(cmdCtx, c, data, logger); err != nil {
			return err
		}
	}
}

// handleFrame parses and dispatches one frame. It returns an error only when
// the connection can no longer be written to.
func (h *ConnectionHandler) handleFrame(ctx context.Context, c *client, data []byte, logger *zap.Logger) error {
	env, err := command.Parse(data)
	if err != nil {
		logger.Debug("malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
		msg := "Invalid message format"
		if errors.Is(err, command.ErrInvalidJSON) {
			msg = "Invalid JSON format"
		}
		return c.Send(command.Frame(command.Error, msg))
	}

	start := time.Now()
	if err := h.dispatcher.Dispatch(ctx, env.Command, c, env.Payload); err != nil {
		logger.Debug("writing response failed", zap.String("command", env.Command), zap.Error(err))
		return err
	}
	logger.Debug("command handled",
		zap.String("command", env.Command),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (h *ConnectionHandler) release(ctx context.Context, c *client, logger *zap.Logger) {
	playerID := c.BoundPlayer()
	if playerID == "" {
		return
	}
	if err := h.sessions.Logout(context.WithoutCancel(ctx), playerID); err != nil {
		logger.Error("logout on close failed", zap.String("player_id", playerID), zap.Error(err))
		return
	}
	logger.Info("player logged out", zap.String("player_id", playerID))
}

// client adapts a ws.Conn to command.Client and remembers the login binding.
type client struct {
	conn *ws.Conn

	mu       sync.Mutex
	playerID string
}

// Send implements command.Client.
func (c *client) Send(frame string) error {
	return c.conn.WriteFrame(frame)
}

// BindPlayer binds playerID to the connection. The first binding is kept:
// a connection logs out at most one player on close.
func (c *client) BindPlayer(playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playerID == "" {
		c.playerID = playerID
	}
}

// BoundPlayer implements command.Client.
func (c *client) BoundPlayer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}
