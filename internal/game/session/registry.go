// Package session owns player login state: device to player resolution,
// single-session-per-player login, logout, and balance updates.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/game/gift"
	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/lock"
	"github.com/cory-johannsen/coinroll/internal/storage"
)

var (
	// ErrInvalidDeviceID is returned when a login carries an empty device id.
	ErrInvalidDeviceID = errors.New("device id is required")
	// ErrAlreadyLoggedIn is returned when the device's player already has an active session.
	ErrAlreadyLoggedIn = errors.New("player already logged in")
	// ErrRejectedUpdate is returned when a resource update cannot be applied.
	ErrRejectedUpdate = errors.New("resource update rejected")
)

// Config holds the starting balances for new players.
type Config struct {
	StartingCoins int
	StartingRolls int
}

// LoginResult describes a successful login.
type LoginResult struct {
	// PlayerID is the id bound to the device.
	PlayerID string
	// Created is true when this login registered the device.
	Created bool
	// Delivered lists queued gifts credited by this login, in ledger order.
	Delivered []ledger.Gift
}

// Registry resolves devices to players and manages their login status.
// All methods are safe for concurrent use.
type Registry struct {
	store  storage.Store
	locker lock.Locker
	gifts  *gift.Coordinator
	ids    IDGenerator
	cfg    Config
	logger *zap.Logger
}

// NewRegistry creates a Registry.
//
// Precondition: every argument must be non-nil.
func NewRegistry(store storage.Store, locker lock.Locker, gifts *gift.Coordinator, ids IDGenerator, cfg Config, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		locker: locker,
		gifts:  gifts,
		ids:    ids,
		cfg:    cfg,
		logger: logger,
	}
}

// FindByDeviceID returns the player registered for deviceID.
// Returns storage.ErrPlayerNotFound if the device is unknown.
func (r *Registry) FindByDeviceID(ctx context.Context, deviceID string) (*player.State, error) {
	var out *player.State
	err := storage.WithTx(ctx, r.store, func(tx storage.Tx) error {
		var err error
		out, err = tx.PlayerByDeviceID(ctx, strings.TrimSpace(deviceID))
		return err
	})
	return out, err
}

// FindByPlayerID returns the player with playerID.
// Returns storage.ErrPlayerNotFound if absent.
func (r *Registry) FindByPlayerID(ctx context.Context, playerID string) (*player.State, error) {
	var out *player.State
	err := storage.WithTx(ctx, r.store, func(tx storage.Tx) error {
		var err error
		out, err = tx.PlayerByID(ctx, strings.TrimSpace(playerID))
		return err
	})
	return out, err
}

// Create builds, without persisting, a new logged-in player for deviceID with
// the configured starting balances.
//
// Precondition: deviceID is non-empty.
func (r *Registry) Create(deviceID string) (*player.State, error) {
	id, err := r.ids.PlayerID(deviceID)
	if err != nil {
		return nil, err
	}
	return &player.State{
		PlayerID:   id,
		DeviceID:   deviceID,
		Coins:      r.cfg.StartingCoins,
		Rolls:      r.cfg.StartingRolls,
		IsLoggedIn: true,
	}, nil
}

// Persist saves s, inserting it when it does not exist yet.
//
// Postcondition: Returns storage.ErrDeviceTaken if s is new and its device is
// already registered to another player.
func (r *Registry) Persist(ctx context.Context, s *player.State) error {
	return storage.WithTx(ctx, r.store, func(tx storage.Tx) error {
		return persist(ctx, tx, s)
	})
}

func persist(ctx context.Context, tx storage.Tx, s *player.State) error {
	err := tx.SavePlayer(ctx, s)
	if errors.Is(err, storage.ErrPlayerNotFound) {
		return tx.InsertPlayer(ctx, s)
	}
	return err
}

// ListLoggedIn returns every player currently marked logged in.
func (r *Registry) ListLoggedIn(ctx context.Context) ([]*player.State, error) {
	var out []*player.State
	err := storage.WithTx(ctx, r.store, func(tx storage.Tx) error {
		var err error
		out, err = tx.LoggedInPlayers(ctx)
		return err
	})
	return out, err
}

// Login starts a session for deviceID.
//
// Precondition: none; deviceID is trimmed before use.
// Postcondition: On success the player is logged in and persisted, and every
// queued gift addressed to it has been credited. Returns ErrInvalidDeviceID for
// an empty device id and ErrAlreadyLoggedIn when the player already has a
// session; in both cases nothing is changed.
func (r *Registry) Login(ctx context.Context, deviceID string) (LoginResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return LoginResult{}, ErrInvalidDeviceID
	}

	releaseDevice, err := r.locker.Acquire(ctx, lock.DeviceKey(deviceID))
	if err != nil {
		return LoginResult{}, fmt.Errorf("locking device: %w", err)
	}
	defer releaseDevice()

	// Resolve the player id outside the write transaction so the player lock is
	// never awaited while a transaction is open.
	playerID, err := r.resolvePlayerID(ctx, deviceID)
	if err != nil {
		return LoginResult{}, err
	}

	releasePlayer, err := r.locker.Acquire(ctx, lock.PlayerKey(playerID))
	if err != nil {
		return LoginResult{}, fmt.Errorf("locking player: %w", err)
	}
	defer releasePlayer()

	var res LoginResult
	err = storage.WithTx(ctx, r.store, func(tx storage.Tx) error {
		existing, err := tx.PlayerByDeviceID(ctx, deviceID)
		switch {
		case errors.Is(err, storage.ErrPlayerNotFound):
			s, err := r.Create(deviceID)
			if err != nil {
				return err
			}
			s.PlayerID = playerID
			if err := tx.InsertPlayer(ctx, s); err != nil {
				if errors.Is(err, storage.ErrDeviceTaken) {
					// Registered concurrently by another process.
					return ErrAlreadyLoggedIn
				}
				return fmt.Errorf("creating player: %w", err)
			}
			res = LoginResult{PlayerID: s.PlayerID, Created: true}
			return nil
		case err != nil:
			return fmt.Errorf("loading player: %w", err)
		}

		if existing.IsLoggedIn {
			return ErrAlreadyLoggedIn
		}
		existing.IsLoggedIn = true
		if err := tx.SavePlayer(ctx, existing); err != nil {
			return fmt.Errorf("saving player: %w", err)
		}
		delivered, err := r.gifts.DeliverQueued(ctx, tx, existing.PlayerID)
		if err != nil {
			return err
		}
		res = LoginResult{PlayerID: existing.PlayerID, Delivered: delivered}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}

	if res.Created {
		r.logger.Info("new player created",
			zap.String("player", res.PlayerID),
			zap.String("device", deviceID),
		)
	} else {
		r.logger.Info("player logged in",
			zap.String("player", res.PlayerID),
			zap.Int("gifts_delivered", len(res.Delivered)),
		)
	}
	return res, nil
}

func (r *Registry) resolvePlayerID(ctx context.Context, deviceID string) (string, error) {
	existing, err := r.FindByDeviceID(ctx, deviceID)
	if err == nil {
		return existing.PlayerID, nil
	}
	if !errors.Is(err, storage.ErrPlayerNotFound) {
		return "", fmt.Errorf("looking up device: %w", err)
	}
	id, err := r.ids.PlayerID(deviceID)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Logout marks playerID logged out.
//
// Postcondition: Idempotent; logging out a logged-out player is a no-op.
// Returns storage.ErrPlayerNotFound for an unknown player.
func (r *Registry) Logout(ctx context.Context, playerID string) error {
	playerID = strings.TrimSpace(playerID)
	release, err := r.locker.Acquire(ctx, lock.PlayerKey(playerID))
	if err != nil {
		return fmt.Errorf("locking player: %w", err)
	}
	defer release()

	changed := false
	err = storage.WithTx(ctx, r.store, func(tx storage.Tx) error {
		s, err := tx.PlayerByID(ctx, playerID)
		if err != nil {
			return err
		}
		if !s.IsLoggedIn {
			return nil
		}
		s.IsLoggedIn = false
		changed = true
		return tx.SavePlayer(ctx, s)
	})
	if err != nil {
		return err
	}
	if changed {
		r.logger.Info("player logged out", zap.String("player", playerID))
	}
	return nil
}

// LogoutAll logs out every logged-in player and returns how many were changed.
// Individual failures are logged and do not stop the sweep.
func (r *Registry) LogoutAll(ctx context.Context) (int, error) {
	online, err := r.ListLoggedIn(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing logged in players: %w", err)
	}
	n := 0
	for _, s := range online {
		if err := r.Logout(ctx, s.PlayerID); err != nil {
			r.logger.Error("logout during sweep failed", zap.String("player", s.PlayerID), zap.Error(err))
			continue
		}
		n++
	}
	r.logger.Info("logged out all players", zap.Int("count", n))
	return n, nil
}

// UpdateResource credits amount of resourceType to playerID and returns the
// new balance.
//
// Precondition: amount > 0.
// Postcondition: Returns storage.ErrPlayerNotFound for an unknown player and
// ErrRejectedUpdate when the resource type is unknown or the amount is not
// positive; nothing is persisted on error.
func (r *Registry) UpdateResource(ctx context.Context, playerID, resourceType string, amount int) (int, error) {
	playerID = strings.TrimSpace(playerID)
	resourceType = player.NormalizeResourceType(resourceType)
	if amount <= 0 || !player.ValidResourceType(resourceType) {
		return 0, ErrRejectedUpdate
	}

	release, err := r.locker.Acquire(ctx, lock.PlayerKey(playerID))
	if err != nil {
		return 0, fmt.Errorf("locking player: %w", err)
	}
	defer release()

	var balance int
	err = storage.WithTx(ctx, r.store, func(tx storage.Tx) error {
		s, err := tx.PlayerByID(ctx, playerID)
		if err != nil {
			return err
		}
		if !player.ApplyDelta(s, resourceType, amount) {
			return ErrRejectedUpdate
		}
		if err := tx.SavePlayer(ctx, s); err != nil {
			return fmt.Errorf("saving player: %w", err)
		}
		balance = player.Resource(s, resourceType)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("resources updated",
		zap.String("player", playerID),
		zap.String("resource", resourceType),
		zap.Int("amount", amount),
		zap.Int("balance", balance),
	)
	return balance, nil
}
