// Package storagetest provides a conformance suite that every storage.Store
// backend runs from its own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/storage"
)

// Suite exercises the storage.Tx contract. NewStore must return an empty,
// migrated store; the suite closes it after each test.
type Suite struct {
	suite.Suite
	NewStore func(t *testing.T) storage.Store

	store storage.Store
	ctx   context.Context
}

var seq atomic.Int64

// uniqueID returns an id that does not collide across tests sharing a database.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore(s.T())
}

func (s *Suite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *Suite) withTx(fn func(tx storage.Tx) error) error {
	return storage.WithTx(s.ctx, s.store, fn)
}

func (s *Suite) newPlayer(loggedIn bool) *player.State {
	id := uniqueID("p")
	return &player.State{PlayerID: id, DeviceID: "dev-" + id, Coins: 100, Rolls: 10, IsLoggedIn: loggedIn}
}

func (s *Suite) insert(players ...*player.State) {
	s.Require().NoError(s.withTx(func(tx storage.Tx) error {
		for _, p := range players {
			if err := tx.InsertPlayer(s.ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *Suite) load(playerID string) *player.State {
	var out *player.State
	s.Require().NoError(s.withTx(func(tx storage.Tx) error {
		p, err := tx.PlayerByID(s.ctx, playerID)
		out = p
		return err
	}))
	return out
}

func (s *Suite) TestHealth() {
	s.NoError(s.store.Health(s.ctx, time.Second))
}

func (s *Suite) TestInsertAndLookup() {
	p := s.newPlayer(true)
	s.insert(p)

	s.NoError(s.withTx(func(tx storage.Tx) error {
		byID, err := tx.PlayerByID(s.ctx, p.PlayerID)
		s.Require().NoError(err)
		s.Equal(*p, *byID)

		byDevice, err := tx.PlayerByDeviceID(s.ctx, p.DeviceID)
		s.Require().NoError(err)
		s.Equal(*p, *byDevice)

		_, err = tx.PlayerByID(s.ctx, "missing-"+p.PlayerID)
		s.ErrorIs(err, storage.ErrPlayerNotFound)
		_, err = tx.PlayerByDeviceID(s.ctx, "missing-"+p.DeviceID)
		s.ErrorIs(err, storage.ErrPlayerNotFound)
		return nil
	}))
}

func (s *Suite) TestInsertDuplicateDevice() {
	p := s.newPlayer(false)
	s.insert(p)

	dup := s.newPlayer(false)
	dup.DeviceID = p.DeviceID
	err := s.withTx(func(tx storage.Tx) error { return tx.InsertPlayer(s.ctx, dup) })
	s.ErrorIs(err, storage.ErrDeviceTaken)

	again := p.Clone()
	again.DeviceID = "other-" + p.DeviceID
	err = s.withTx(func(tx storage.Tx) error { return tx.InsertPlayer(s.ctx, again) })
	s.ErrorIs(err, storage.ErrDeviceTaken, "duplicate player id")
}

func (s *Suite) TestSavePlayer() {
	p := s.newPlayer(false)
	s.insert(p)

	s.Require().NoError(s.withTx(func(tx storage.Tx) error {
		got, err := tx.PlayerByID(s.ctx, p.PlayerID)
		if err != nil {
			return err
		}
		got.Coins, got.Rolls, got.IsLoggedIn = 7, 3, true
		got.DeviceID = "ignored"
		return tx.SavePlayer(s.ctx, got)
	}))

	got := s.load(p.PlayerID)
	s.Equal(7, got.Coins)
	s.Equal(3, got.Rolls)
	s.True(got.IsLoggedIn)
	s.Equal(p.DeviceID, got.DeviceID, "device id is immutable")

	missing := s.newPlayer(false)
	err := s.withTx(func(tx storage.Tx) error { return tx.SavePlayer(s.ctx, missing) })
	s.ErrorIs(err, storage.ErrPlayerNotFound)
}

func (s *Suite) TestRollbackDiscardsWrites() {
	p := s.newPlayer(false)
	s.insert(p)
	boom := errors.New("boom")

	err := s.withTx(func(tx storage.Tx) error {
		got, err := tx.PlayerByID(s.ctx, p.PlayerID)
		if err != nil {
			return err
		}
		got.Coins = 0
		if err := tx.SavePlayer(s.ctx, got); err != nil {
			return err
		}
		if err := tx.InsertGift(s.ctx, &ledger.Gift{
			SenderPlayerID: p.PlayerID, RecipientPlayerID: "x", ResourceType: player.ResourceCoins, ResourceValue: 100,
		}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)
	s.Equal(100, s.load(p.PlayerID).Coins)

	s.NoError(s.withTx(func(tx storage.Tx) error {
		gifts, err := tx.GiftsBetween(s.ctx, p.PlayerID, "x")
		s.Empty(gifts)
		return err
	}))
}

func (s *Suite) TestLoggedInPlayers() {
	on1, on2, off := s.newPlayer(true), s.newPlayer(true), s.newPlayer(false)
	s.insert(on1, on2, off)

	s.NoError(s.withTx(func(tx storage.Tx) error {
		players, err := tx.LoggedInPlayers(s.ctx)
		s.Require().NoError(err)
		ids := make(map[string]bool)
		for _, p := range players {
			s.True(p.IsLoggedIn)
			ids[p.PlayerID] = true
		}
		s.True(ids[on1.PlayerID])
		s.True(ids[on2.PlayerID])
		s.False(ids[off.PlayerID])
		return nil
	}))
}

func (s *Suite) TestGiftQueueLifecycle() {
	sender, recipient := s.newPlayer(true), s.newPlayer(false)
	s.insert(sender, recipient)

	queued := &ledger.Gift{
		SenderPlayerID: sender.PlayerID, RecipientPlayerID: recipient.PlayerID,
		ResourceType: player.ResourceCoins, ResourceValue: 20, Queued: true,
	}
	history := &ledger.Gift{
		SenderPlayerID: sender.PlayerID, RecipientPlayerID: recipient.PlayerID,
		ResourceType: player.ResourceRolls, ResourceValue: 2,
	}
	s.Require().NoError(s.withTx(func(tx storage.Tx) error {
		if err := tx.InsertGift(s.ctx, queued); err != nil {
			return err
		}
		return tx.InsertGift(s.ctx, history)
	}))
	s.Positive(queued.ID)
	s.Greater(history.ID, queued.ID)
	s.False(queued.CreatedAt.IsZero())

	s.Require().NoError(s.withTx(func(tx storage.Tx) error {
		pending, err := tx.QueuedGifts(s.ctx, recipient.PlayerID)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(queued.ID, pending[0].ID)
		s.Equal(20, pending[0].ResourceValue)
		s.True(pending[0].Queued)
		s.False(pending[0].Delivered)

		s.ErrorIs(tx.MarkGiftDelivered(s.ctx, history.ID), storage.ErrGiftNotFound, "history gifts are never pending")
		return tx.MarkGiftDelivered(s.ctx, queued.ID)
	}))

	s.NoError(s.withTx(func(tx storage.Tx) error {
		pending, err := tx.QueuedGifts(s.ctx, recipient.PlayerID)
		s.Require().NoError(err)
		s.Empty(pending)
		s.ErrorIs(tx.MarkGiftDelivered(s.ctx, queued.ID), storage.ErrGiftNotFound, "delivered flips once")

		all, err := tx.GiftsFor(s.ctx, recipient.PlayerID)
		s.Require().NoError(err)
		s.Require().Len(all, 2)
		s.True(all[0].Delivered)
		s.False(all[1].Delivered)

		between, err := tx.GiftsBetween(s.ctx, sender.PlayerID, recipient.PlayerID)
		s.Require().NoError(err)
		s.Len(between, 2)
		reverse, err := tx.GiftsBetween(s.ctx, recipient.PlayerID, sender.PlayerID)
		s.Require().NoError(err)
		s.Empty(reverse)
		return nil
	}))
}

// TestValuesBeyond32Bits stores balances and gift values that do not fit in
// a 32-bit column.
func (s *Suite) TestValuesBeyond32Bits() {
	const large = 1 << 40
	p := s.newPlayer(false)
	p.Coins = large
	s.insert(p)

	p.Rolls = large + 1
	s.Require().NoError(s.withTx(func(tx storage.Tx) error { return tx.SavePlayer(s.ctx, p) }))
	got := s.load(p.PlayerID)
	s.Equal(large, got.Coins)
	s.Equal(large+1, got.Rolls)

	g := &ledger.Gift{
		SenderPlayerID: uniqueID("s"), RecipientPlayerID: p.PlayerID,
		ResourceType: player.ResourceCoins, ResourceValue: large, Queued: true,
	}
	s.Require().NoError(s.withTx(func(tx storage.Tx) error { return tx.InsertGift(s.ctx, g) }))
	s.NoError(s.withTx(func(tx storage.Tx) error {
		pending, err := tx.QueuedGifts(s.ctx, p.PlayerID)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(large, pending[0].ResourceValue)
		return nil
	}))
}

func (s *Suite) TestTxDone() {
	tx, err := s.store.Begin(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit(s.ctx))
	s.ErrorIs(tx.Commit(s.ctx), storage.ErrTxDone)
	s.NoError(tx.Rollback(s.ctx), "rollback after commit is a no-op")
}

// TestConcurrentDebits runs read-modify-write cycles from many goroutines.
// Each backend must serialize them so no update is lost.
func (s *Suite) TestConcurrentDebits() {
	p := s.newPlayer(true)
	s.insert(p)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- storage.WithTx(s.ctx, s.store, func(tx storage.Tx) error {
				got, err := tx.PlayerByID(s.ctx, p.PlayerID)
				if err != nil {
					return err
				}
				if !player.ApplyDelta(got, player.ResourceCoins, -1) {
					return errors.New("insufficient")
				}
				return tx.SavePlayer(s.ctx, got)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
	s.Equal(100-workers, s.load(p.PlayerID).Coins)
}
