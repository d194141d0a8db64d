package command

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Client is the connection-side view a handler writes to.
type Client interface {
	// Send writes one outbound frame.
	Send(frame string) error
	// BindPlayer records playerID as the player logged in on this connection.
	BindPlayer(playerID string)
	// BoundPlayer returns the bound player id, or "" before a successful Login.
	BoundPlayer() string
}

// Handler serves one command.
type Handler interface {
	// NewPayload returns a fresh, empty payload variant to decode into.
	NewPayload() Payload
	// Reject writes the frame for a payload that failed to decode or validate.
	Reject(c Client, err error) error
	// Handle executes the command. It translates its own domain errors into
	// frames and returns an error only when writing to c fails.
	Handle(ctx context.Context, c Client, p Payload) error
}

// Dispatcher routes parsed envelopes to handlers through a static table.
type Dispatcher struct {
	registry *Registry
	handlers map[string]Handler // handler identifier → handler
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: every command in registry must name a handler present in handlers.
// Postcondition: Returns an error listing the first unwired command otherwise.
func NewDispatcher(registry *Registry, handlers map[string]Handler, logger *zap.Logger) (*Dispatcher, error) {
	for _, cmd := range registry.Commands() {
		if _, ok := handlers[cmd.Handler]; !ok {
			return nil, fmt.Errorf("command %q has no handler %q", cmd.Name, cmd.Handler)
		}
	}
	return &Dispatcher{registry: registry, handlers: handlers, logger: logger}, nil
}

// Dispatch resolves name, decodes payload into the command's variant, and
// invokes its handler.
//
// Postcondition: Exactly one of the following happens: an UnknownCommand
// frame is written, the handler's rejection frame is written, or the handler
// runs. Returns an error only when writing to c fails.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, c Client, payload json.RawMessage) error {
	cmd, ok := d.registry.Resolve(name)
	if !ok {
		d.logger.Debug("unknown command", zap.String("command", name))
		return c.Send(Frame(UnknownCommand, name))
	}
	h := d.handlers[cmd.Handler]

	p := h.NewPayload()
	if err := decodePayload(payload, p); err != nil {
		d.logger.Debug("rejected payload", zap.String("command", cmd.Name), zap.Error(err))
		return h.Reject(c, err)
	}
	return h.Handle(ctx, c, p)
}
