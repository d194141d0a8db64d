package session

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Player id strategies accepted by NewIDGenerator.
const (
	StrategyDevice = "device"
	StrategyUUID   = "uuid"
	StrategyHash   = "hash"
)

// IDGenerator derives the player id for a device seen for the first time.
type IDGenerator interface {
	// PlayerID returns a new player id for deviceID.
	//
	// Precondition: deviceID is non-empty and trimmed.
	PlayerID(deviceID string) (string, error)
}

// DeviceIDs uses the device id itself as the player id.
type DeviceIDs struct{}

// PlayerID implements IDGenerator.
func (DeviceIDs) PlayerID(deviceID string) (string, error) { return deviceID, nil }

// RandomIDs issues a random UUIDv4 per new player.
type RandomIDs struct{}

// PlayerID implements IDGenerator.
func (RandomIDs) PlayerID(string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating player id: %w", err)
	}
	return id.String(), nil
}

// HashedIDs derives the player id as a keyed BLAKE2b-256 digest of the device id,
// so player ids do not reveal device ids.
type HashedIDs struct {
	key []byte
}

// NewHashedIDs creates a HashedIDs keyed by secret.
//
// Precondition: secret must be 1..64 bytes.
func NewHashedIDs(secret string) (*HashedIDs, error) {
	if secret == "" {
		return nil, errors.New("hash id strategy requires a secret")
	}
	if len(secret) > blake2b.Size {
		return nil, fmt.Errorf("hash id secret must be at most %d bytes", blake2b.Size)
	}
	return &HashedIDs{key: []byte(secret)}, nil
}

// PlayerID implements IDGenerator.
func (h *HashedIDs) PlayerID(deviceID string) (string, error) {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		return "", fmt.Errorf("initialising blake2b: %w", err)
	}
	mac.Write([]byte(deviceID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// NewIDGenerator returns the generator for strategy.
//
// Precondition: strategy is one of StrategyDevice, StrategyUUID, StrategyHash;
// secret is required for StrategyHash.
func NewIDGenerator(strategy, secret string) (IDGenerator, error) {
	switch strategy {
	case "", StrategyDevice:
		return DeviceIDs{}, nil
	case StrategyUUID:
		return RandomIDs{}, nil
	case StrategyHash:
		return NewHashedIDs(secret)
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
}
