// Package storage defines the player store and gift ledger contract shared by
// the postgres, sqlite, and memory backends.
//
// All reads and writes go through a Tx obtained from Store.Begin. WithTx is the
// preferred way to use one: it commits only when the callback succeeds and
// rolls back on every other path, including panics.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
)

// ErrPlayerNotFound is returned when a player lookup yields no results.
var ErrPlayerNotFound = errors.New("player not found")

// ErrDeviceTaken is returned when inserting a player whose device id or player id
// already exists.
var ErrDeviceTaken = errors.New("device already registered")

// ErrGiftNotFound is returned when a gift update matches no row.
var ErrGiftNotFound = errors.New("gift not found")

// ErrTxDone is returned by operations on a transaction that has already been
// committed or rolled back.
var ErrTxDone = errors.New("transaction already finished")

// Tx is a scoped unit of work against the player store and gift ledger.
// A Tx is not safe for concurrent use.
type Tx interface {
	// PlayerByID loads a player. Returns ErrPlayerNotFound if absent.
	// Backends that support row locking lock the row for the rest of the Tx.
	PlayerByID(ctx context.Context, playerID string) (*player.State, error)
	// PlayerByDeviceID loads a player by device. Returns ErrPlayerNotFound if absent.
	PlayerByDeviceID(ctx context.Context, deviceID string) (*player.State, error)
	// InsertPlayer creates a player. Returns ErrDeviceTaken on a duplicate id or device.
	InsertPlayer(ctx context.Context, s *player.State) error
	// SavePlayer persists balances and login status. Returns ErrPlayerNotFound if absent.
	SavePlayer(ctx context.Context, s *player.State) error
	// LoggedInPlayers returns every player whose IsLoggedIn flag is set.
	LoggedInPlayers(ctx context.Context) ([]*player.State, error)

	// InsertGift appends g and sets its ID and CreatedAt.
	InsertGift(ctx context.Context, g *ledger.Gift) error
	// QueuedGifts returns pending gifts for recipientID in ID order.
	QueuedGifts(ctx context.Context, recipientID string) ([]*ledger.Gift, error)
	// MarkGiftDelivered flips a pending gift to delivered. Returns ErrGiftNotFound
	// if no pending gift has that ID.
	MarkGiftDelivered(ctx context.Context, giftID int64) error
	// GiftsBetween returns every gift from senderID to recipientID in ID order.
	GiftsBetween(ctx context.Context, senderID, recipientID string) ([]*ledger.Gift, error)
	// GiftsFor returns every gift addressed to recipientID in ID order.
	GiftsFor(ctx context.Context, recipientID string) ([]*ledger.Gift, error)

	// Commit makes all changes durable. Returns ErrTxDone if already finished.
	Commit(ctx context.Context) error
	// Rollback discards all changes. Calling it after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// Store opens transactions against a backend.
type Store interface {
	// Begin opens a new transaction.
	Begin(ctx context.Context) (Tx, error)
	// Health checks that the backend is reachable within timeout.
	Health(ctx context.Context, timeout time.Duration) error
	// Close releases backend resources.
	Close() error
}

// WithTx runs fn inside a transaction from s.
//
// Precondition: s and fn must be non-nil.
// Postcondition: The transaction is committed if and only if fn returns nil and
// the commit succeeds; it is rolled back on any error or panic. fn's error is
// returned unwrapped so callers can match sentinels with errors.Is.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// The caller's ctx may already be cancelled; rollback must still run.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}
