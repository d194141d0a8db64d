package command

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/game/gift"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/game/session"
	"github.com/cory-johannsen/coinroll/internal/storage"
)

// Client-facing messages.
const (
	msgInvalidLogin        = "Invalid login request. DeviceId is required."
	msgAlreadyLoggedIn     = "PlayerAlreadyLoggedIn"
	msgConnectionBound     = "ConnectionAlreadyLoggedIn"
	msgLoginError          = "An error occurred during login."
	msgInvalidBalance      = "Invalid request. Player ID is required."
	msgBalanceError        = "An error occurred while retrieving the balance."
	msgPlayerNotFound      = "Player not found."
	msgInvalidContent      = "Invalid message content."
	msgInvalidUpdate       = "Invalid resource update."
	msgUpdateError         = "An error occurred while processing the update request."
	msgGiftPlayersNotFound = "Sender or recipient not found."
	msgInsufficient        = "Insufficient resources."
	msgGiftError           = "An error occurred while processing your request."
	msgQueuedSuffix        = "Queued"
)

// Sessions is the player session capability the handlers need.
type Sessions interface {
	Login(ctx context.Context, deviceID string) (session.LoginResult, error)
	FindByPlayerID(ctx context.Context, playerID string) (*player.State, error)
	UpdateResource(ctx context.Context, playerID, resourceType string, amount int) (int, error)
}

// Gifts is the transfer capability the SendGift handler needs.
type Gifts interface {
	Transfer(ctx context.Context, req gift.Request) (gift.Result, error)
}

// DefaultHandlers returns the handler table for BuiltinCommands.
//
// Precondition: sessions, gifts, and logger must be non-nil.
func DefaultHandlers(sessions Sessions, gifts Gifts, logger *zap.Logger) map[string]Handler {
	return map[string]Handler{
		HandlerLogin:           &LoginHandler{sessions: sessions, logger: logger},
		HandlerGetBalance:      &GetBalanceHandler{sessions: sessions, logger: logger},
		HandlerUpdateResources: &UpdateResourcesHandler{sessions: sessions, logger: logger},
		HandlerSendGift:        &SendGiftHandler{gifts: gifts, logger: logger},
	}
}

// LoginHandler serves Login.
type LoginHandler struct {
	sessions Sessions
	logger   *zap.Logger
}

// NewPayload returns an empty LoginPayload.
func (h *LoginHandler) NewPayload() Payload { return &LoginPayload{} }

// Reject answers an invalid Login with LoginFailed.
func (h *LoginHandler) Reject(c Client, _ error) error {
	return c.Send(Frame(LoginFailed, msgInvalidLogin))
}

// Handle logs the device in, binds the player to c, then writes one
// GiftDelivered frame per delivered gift followed by LoginSuccess.
// A Login on a connection that already has a bound player is answered with
// LoginFailed and leaves every player untouched.
func (h *LoginHandler) Handle(ctx context.Context, c Client, p Payload) error {
	req := p.(*LoginPayload)
	if bound := c.BoundPlayer(); bound != "" {
		h.logger.Debug("login on bound connection", zap.String("bound", bound), zap.String("device", req.DeviceID))
		return c.Send(Frame(LoginFailed, msgConnectionBound))
	}
	res, err := h.sessions.Login(ctx, req.DeviceID)
	switch {
	case errors.Is(err, session.ErrInvalidDeviceID):
		return c.Send(Frame(LoginFailed, msgInvalidLogin))
	case errors.Is(err, session.ErrAlreadyLoggedIn):
		return c.Send(Frame(LoginFailed, msgAlreadyLoggedIn))
	case err != nil:
		h.logger.Error("login failed", zap.String("device", req.DeviceID), zap.Error(err))
		return c.Send(Frame(LoginFailed, msgLoginError))
	}

	c.BindPlayer(res.PlayerID)
	for _, g := range res.Delivered {
		frame := Frame(GiftDelivered, g.SenderPlayerID, g.ResourceType, strconv.Itoa(g.ResourceValue))
		if err := c.Send(frame); err != nil {
			return err
		}
	}
	return c.Send(Frame(LoginSuccess, res.PlayerID))
}

// GetBalanceHandler serves GetBalance.
type GetBalanceHandler struct {
	sessions Sessions
	logger   *zap.Logger
}

// NewPayload returns an empty GetBalancePayload.
func (h *GetBalanceHandler) NewPayload() Payload { return &GetBalancePayload{} }

// Reject answers a GetBalance without a player id.
func (h *GetBalanceHandler) Reject(c Client, _ error) error {
	return c.Send(Frame(Error, msgInvalidBalance))
}

// Handle writes BalanceInfo for the requested player.
func (h *GetBalanceHandler) Handle(ctx context.Context, c Client, p Payload) error {
	req := p.(*GetBalancePayload)
	s, err := h.sessions.FindByPlayerID(ctx, req.PlayerID)
	switch {
	case errors.Is(err, storage.ErrPlayerNotFound):
		return c.Send(Frame(PlayerNotFound, msgPlayerNotFound))
	case err != nil:
		h.logger.Error("balance lookup failed", zap.String("player", req.PlayerID), zap.Error(err))
		return c.Send(Frame(Error, msgBalanceError))
	}
	return c.Send(Frame(BalanceInfo, s.PlayerID, strconv.Itoa(s.Coins), strconv.Itoa(s.Rolls)))
}

// UpdateResourcesHandler serves UpdateResources.
type UpdateResourcesHandler struct {
	sessions Sessions
	logger   *zap.Logger
}

// NewPayload returns an empty UpdateResourcesPayload.
func (h *UpdateResourcesHandler) NewPayload() Payload { return &UpdateResourcesPayload{} }

// Reject answers a malformed or non-positive update.
func (h *UpdateResourcesHandler) Reject(c Client, _ error) error {
	return c.Send(Frame(Error, msgInvalidContent))
}

// Handle credits the recipient and writes UpdateSuccess with the new balance.
func (h *UpdateResourcesHandler) Handle(ctx context.Context, c Client, p Payload) error {
	req := p.(*UpdateResourcesPayload)
	balance, err := h.sessions.UpdateResource(ctx, req.RecipientPlayerID, req.ResourceType, req.ResourceValue)
	switch {
	case errors.Is(err, storage.ErrPlayerNotFound):
		return c.Send(Frame(PlayerNotFound, msgPlayerNotFound))
	case errors.Is(err, session.ErrRejectedUpdate):
		return c.Send(Frame(Error, msgInvalidUpdate))
	case err != nil:
		h.logger.Error("resource update failed",
			zap.String("player", req.RecipientPlayerID),
			zap.String("resource", req.ResourceType),
			zap.Error(err),
		)
		return c.Send(Frame(Error, msgUpdateError))
	}
	return c.Send(Frame(UpdateSuccess, req.ResourceType, strconv.Itoa(balance)))
}

// SendGiftHandler serves SendGift.
type SendGiftHandler struct {
	gifts  Gifts
	logger *zap.Logger
}

// NewPayload returns an empty SendGiftPayload.
func (h *SendGiftHandler) NewPayload() Payload { return &SendGiftPayload{} }

// Reject answers a malformed gift request.
func (h *SendGiftHandler) Reject(c Client, _ error) error {
	return c.Send(Frame(Error, msgInvalidContent))
}

// Handle runs the transfer and writes GiftSuccess or GiftQueued.
func (h *SendGiftHandler) Handle(ctx context.Context, c Client, p Payload) error {
	req := p.(*SendGiftPayload)
	res, err := h.gifts.Transfer(ctx, gift.Request{
		SenderID:     req.SenderPlayerID,
		RecipientID:  req.RecipientPlayerID,
		ResourceType: req.ResourceType,
		Amount:       req.ResourceValue,
	})
	switch {
	case errors.Is(err, storage.ErrPlayerNotFound):
		return c.Send(Frame(PlayerNotFound, msgGiftPlayersNotFound))
	case errors.Is(err, gift.ErrInsufficientResources):
		return c.Send(Frame(Error, msgInsufficient))
	case errors.Is(err, gift.ErrInvalidAmount),
		errors.Is(err, gift.ErrSelfTransfer),
		errors.Is(err, gift.ErrUnknownResource):
		return c.Send(Frame(Error, msgInvalidContent))
	case err != nil:
		h.logger.Error("gift transfer failed",
			zap.String("sender", req.SenderPlayerID),
			zap.String("recipient", req.RecipientPlayerID),
			zap.Error(err),
		)
		return c.Send(Frame(Error, msgGiftError))
	}

	fields := []string{req.SenderPlayerID, req.RecipientPlayerID, req.ResourceType, strconv.Itoa(req.ResourceValue)}
	if res.Queued {
		return c.Send(Frame(GiftQueued, append(fields, msgQueuedSuffix)...))
	}
	return c.Send(Frame(GiftSuccess, fields...))
}

