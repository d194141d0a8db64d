package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cory-johannsen/coinroll/internal/game/player"
)

// ErrValidation marks a payload that decoded but failed validation.
var ErrValidation = errors.New("invalid payload")

// Payload is one command's typed request body.
type Payload interface {
	// Normalize trims identifier fields in place.
	Normalize()
	// Validate reports a wrapped ErrValidation if the payload is unusable.
	Validate() error
}

// LoginPayload is the body of Login.
type LoginPayload struct {
	DeviceID string `json:"deviceId"`
}

func (p *LoginPayload) Normalize() { p.DeviceID = strings.TrimSpace(p.DeviceID) }

func (p *LoginPayload) Validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrValidation)
	}
	return nil
}

// GetBalancePayload is the body of GetBalance.
type GetBalancePayload struct {
	PlayerID string `json:"playerId"`
}

func (p *GetBalancePayload) Normalize() { p.PlayerID = strings.TrimSpace(p.PlayerID) }

func (p *GetBalancePayload) Validate() error {
	if p.PlayerID == "" {
		return fmt.Errorf("%w: playerId is required", ErrValidation)
	}
	return nil
}

// UpdateResourcesPayload is the body of UpdateResources.
type UpdateResourcesPayload struct {
	RecipientPlayerID string `json:"recipientPlayerId"`
	ResourceType      string `json:"resourceType"`
	ResourceValue     int    `json:"resourceValue"`
}

func (p *UpdateResourcesPayload) Normalize() {
	p.RecipientPlayerID = strings.TrimSpace(p.RecipientPlayerID)
	p.ResourceType = player.NormalizeResourceType(p.ResourceType)
}

// Validate leaves the resource type to the registry so an unknown type is
// reported as a rejected update rather than a malformed message.
func (p *UpdateResourcesPayload) Validate() error {
	switch {
	case p.RecipientPlayerID == "":
		return fmt.Errorf("%w: recipientPlayerId is required", ErrValidation)
	case p.ResourceType == "":
		return fmt.Errorf("%w: resourceType is required", ErrValidation)
	case p.ResourceValue <= 0:
		return fmt.Errorf("%w: resourceValue must be positive", ErrValidation)
	}
	return nil
}

// SendGiftPayload is the body of SendGift.
type SendGiftPayload struct {
	SenderPlayerID    string `json:"senderPlayerId"`
	RecipientPlayerID string `json:"recipientPlayerId"`
	ResourceType      string `json:"resourceType"`
	ResourceValue     int    `json:"resourceValue"`
}

func (p *SendGiftPayload) Normalize() {
	p.SenderPlayerID = strings.TrimSpace(p.SenderPlayerID)
	p.RecipientPlayerID = strings.TrimSpace(p.RecipientPlayerID)
	p.ResourceType = player.NormalizeResourceType(p.ResourceType)
}

func (p *SendGiftPayload) Validate() error {
	switch {
	case p.SenderPlayerID == "":
		return fmt.Errorf("%w: senderPlayerId is required", ErrValidation)
	case p.RecipientPlayerID == "":
		return fmt.Errorf("%w: recipientPlayerId is required", ErrValidation)
	case p.SenderPlayerID == p.RecipientPlayerID:
		return fmt.Errorf("%w: sender and recipient must differ", ErrValidation)
	case !player.ValidResourceType(p.ResourceType):
		return fmt.Errorf("%w: unknown resourceType %q", ErrValidation, p.ResourceType)
	case p.ResourceValue <= 0:
		return fmt.Errorf("%w: resourceValue must be positive", ErrValidation)
	}
	return nil
}

// decodePayload unmarshals raw into p, then normalizes and validates it.
// A missing payload decodes as the zero value and fails validation.
func decodePayload(raw json.RawMessage, p Payload) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	p.Normalize()
	return p.Validate()
}
