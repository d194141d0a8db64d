package gift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/lock"
	"github.com/cory-johannsen/coinroll/internal/storage"
	"github.com/cory-johannsen/coinroll/internal/storage/memory"
)

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func seed(t fataler, s *memory.Store, players ...*player.State) {
	t.Helper()
	err := storage.WithTx(context.Background(), s, func(tx storage.Tx) error {
		for _, p := range players {
			if err := tx.InsertPlayer(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
}

func online(id string, coins, rolls int) *player.State {
	return &player.State{PlayerID: id, DeviceID: "dev-" + id, Coins: coins, Rolls: rolls, IsLoggedIn: true}
}

func offline(id string, coins, rolls int) *player.State {
	p := online(id, coins, rolls)
	p.IsLoggedIn = false
	return p
}

func newTestCoordinator(t *testing.T) (*Coordinator, *memory.Store) {
	s := memory.New()
	return NewCoordinator(s, lock.NewLocal(), zaptest.NewLogger(t)), s
}

func mustPlayer(t *testing.T, s *memory.Store, id string) *player.State {
	t.Helper()
	p, ok := s.Player(id)
	require.True(t, ok, "player %s", id)
	return p
}

func TestRequestValidate(t *testing.T) {
	ok := Request{SenderID: "a", RecipientID: "b", ResourceType: "coins", Amount: 1}
	assert.NoError(t, ok.Validate())

	cases := []struct {
		name string
		mut  func(r *Request)
		want error
	}{
		{"zero amount", func(r *Request) { r.Amount = 0 }, ErrInvalidAmount},
		{"negative amount", func(r *Request) { r.Amount = -5 }, ErrInvalidAmount},
		{"self", func(r *Request) { r.RecipientID = "a" }, ErrSelfTransfer},
		{"unknown resource", func(r *Request) { r.ResourceType = "gems" }, ErrUnknownResource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := ok
			tc.mut(&r)
			assert.ErrorIs(t, r.Validate(), tc.want)
		})
	}
}

func TestTransfer_OnlineRecipient(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 100, 10), online("p2", 100, 10))

	res, err := c.Transfer(context.Background(), Request{
		SenderID: "p1", RecipientID: "p2", ResourceType: player.ResourceCoins, Amount: 30,
	})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.NotZero(t, res.Gift.ID)

	assert.Equal(t, 70, mustPlayer(t, s, "p1").Coins)
	assert.Equal(t, 130, mustPlayer(t, s, "p2").Coins)

	gifts := s.Gifts()
	require.Len(t, gifts, 1)
	assert.False(t, gifts[0].Queued)
	assert.False(t, gifts[0].Pending())
}

func TestTransfer_OfflineRecipientQueues(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 100, 10), offline("p2", 100, 10))

	res, err := c.Transfer(context.Background(), Request{
		SenderID: "p1", RecipientID: "p2", ResourceType: player.ResourceRolls, Amount: 4,
	})
	require.NoError(t, err)
	assert.True(t, res.Queued)

	assert.Equal(t, 6, mustPlayer(t, s, "p1").Rolls)
	assert.Equal(t, 10, mustPlayer(t, s, "p2").Rolls, "offline recipient is not credited")

	gifts := s.Gifts()
	require.Len(t, gifts, 1)
	assert.True(t, gifts[0].Pending())
}

func TestTransfer_Errors(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 10, 0), online("p2", 0, 0))
	ctx := context.Background()

	_, err := c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "p2", ResourceType: "coins", Amount: 11})
	assert.ErrorIs(t, err, ErrInsufficientResources)

	_, err = c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "p2", ResourceType: "rolls", Amount: 1})
	assert.ErrorIs(t, err, ErrInsufficientResources)

	_, err = c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "ghost", ResourceType: "coins", Amount: 1})
	assert.ErrorIs(t, err, storage.ErrPlayerNotFound)

	_, err = c.Transfer(ctx, Request{SenderID: "ghost", RecipientID: "p2", ResourceType: "coins", Amount: 1})
	assert.ErrorIs(t, err, storage.ErrPlayerNotFound)

	_, err = c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "p1", ResourceType: "coins", Amount: 1})
	assert.ErrorIs(t, err, ErrSelfTransfer)

	assert.Equal(t, 10, mustPlayer(t, s, "p1").Coins)
	assert.Equal(t, 0, mustPlayer(t, s, "p2").Coins)
	assert.Empty(t, s.Gifts())
}

func TestTransfer_StorageFaultLeavesNoTrace(t *testing.T) {
	for _, op := range []string{"SavePlayer", "InsertGift", "Commit"} {
		t.Run(op, func(t *testing.T) {
			c, s := newTestCoordinator(t)
			seed(t, s, online("p1", 100, 10), online("p2", 100, 10))
			injected := errors.New("injected")
			s.SetFault(func(got string) error {
				if got == op {
					return injected
				}
				return nil
			})

			_, err := c.Transfer(context.Background(), Request{
				SenderID: "p1", RecipientID: "p2", ResourceType: "coins", Amount: 25,
			})
			assert.ErrorIs(t, err, injected)

			s.SetFault(nil)
			assert.Equal(t, 100, mustPlayer(t, s, "p1").Coins)
			assert.Equal(t, 100, mustPlayer(t, s, "p2").Coins)
			assert.Empty(t, s.Gifts())
		})
	}
}

func TestTransfer_ContextCancelledBeforeLock(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 100, 10), online("p2", 100, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The locker may still win the race on an uncontended key; either outcome
	// must leave balances consistent.
	_, err := c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "p2", ResourceType: "coins", Amount: 5})
	p1, p2 := mustPlayer(t, s, "p1"), mustPlayer(t, s, "p2")
	assert.Equal(t, 200, p1.Coins+p2.Coins)
	if err != nil {
		assert.Equal(t, 100, p1.Coins)
	}
}

func TestDeliverQueued(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 100, 10), offline("p2", 0, 0))
	ctx := context.Background()

	for _, req := range []Request{
		{SenderID: "p1", RecipientID: "p2", ResourceType: "coins", Amount: 20},
		{SenderID: "p1", RecipientID: "p2", ResourceType: "rolls", Amount: 3},
	} {
		res, err := c.Transfer(ctx, req)
		require.NoError(t, err)
		require.True(t, res.Queued)
	}

	var delivered []ledger.Gift
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		var err error
		delivered, err = c.DeliverQueued(ctx, tx, "p2")
		return err
	}))
	require.Len(t, delivered, 2)
	assert.Equal(t, "coins", delivered[0].ResourceType)
	assert.Equal(t, 20, delivered[0].ResourceValue)
	assert.Equal(t, "rolls", delivered[1].ResourceType)
	assert.True(t, delivered[0].Delivered)

	p2 := mustPlayer(t, s, "p2")
	assert.Equal(t, 20, p2.Coins)
	assert.Equal(t, 3, p2.Rolls)

	// A second delivery finds nothing.
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		again, err := c.DeliverQueued(ctx, tx, "p2")
		assert.Empty(t, again)
		return err
	}))
	assert.Equal(t, 20, mustPlayer(t, s, "p2").Coins)
}

func TestDeliverQueued_IgnoresHistoryGifts(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 100, 10), online("p2", 0, 0))
	ctx := context.Background()

	_, err := c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "p2", ResourceType: "coins", Amount: 20})
	require.NoError(t, err)

	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		delivered, err := c.DeliverQueued(ctx, tx, "p2")
		assert.Empty(t, delivered)
		return err
	}))
	assert.Equal(t, 20, mustPlayer(t, s, "p2").Coins, "an immediate gift must never be credited twice")
}

func TestDeliverQueued_SkipsUnusableResource(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 100, 10), offline("p2", 0, 0))
	ctx := context.Background()

	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		if err := tx.InsertGift(ctx, &ledger.Gift{
			SenderPlayerID: "p1", RecipientPlayerID: "p2", ResourceType: "gems", ResourceValue: 5, Queued: true,
		}); err != nil {
			return err
		}
		return tx.InsertGift(ctx, &ledger.Gift{
			SenderPlayerID: "p1", RecipientPlayerID: "p2", ResourceType: "coins", ResourceValue: 5, Queued: true,
		})
	}))

	var delivered []ledger.Gift
	require.NoError(t, storage.WithTx(ctx, s, func(tx storage.Tx) error {
		var err error
		delivered, err = c.DeliverQueued(ctx, tx, "p2")
		return err
	}))
	require.Len(t, delivered, 1)
	assert.Equal(t, "coins", delivered[0].ResourceType)

	gifts := s.Gifts()
	require.Len(t, gifts, 2)
	assert.True(t, gifts[0].Pending(), "unusable gift stays queued")
}

func TestDeliverQueued_StorageFault(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 100, 10), offline("p2", 0, 0))
	ctx := context.Background()
	_, err := c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "p2", ResourceType: "coins", Amount: 7})
	require.NoError(t, err)

	injected := errors.New("injected")
	s.SetFault(func(op string) error {
		if op == "MarkGiftDelivered" {
			return injected
		}
		return nil
	})
	err = storage.WithTx(ctx, s, func(tx storage.Tx) error {
		_, err := c.DeliverQueued(ctx, tx, "p2")
		return err
	})
	assert.ErrorIs(t, err, injected)
	s.SetFault(nil)

	assert.Equal(t, 0, mustPlayer(t, s, "p2").Coins)
	assert.True(t, s.Gifts()[0].Pending())
}

func TestTransfer_ConcurrentOppositeDirections(t *testing.T) {
	c, s := newTestCoordinator(t)
	seed(t, s, online("p1", 1000, 0), online("p2", 1000, 0))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := c.Transfer(ctx, Request{SenderID: "p1", RecipientID: "p2", ResourceType: "coins", Amount: 3})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := c.Transfer(ctx, Request{SenderID: "p2", RecipientID: "p1", ResourceType: "coins", Amount: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000-150+50, mustPlayer(t, s, "p1").Coins)
	assert.Equal(t, 1000+150-50, mustPlayer(t, s, "p2").Coins)
	assert.Len(t, s.Gifts(), 100)
}

// totals returns balances plus pending gift value per resource.
func totals(s *memory.Store, ids []string) map[string]int {
	out := map[string]int{}
	for _, id := range ids {
		p, _ := s.Player(id)
		out[player.ResourceCoins] += p.Coins
		out[player.ResourceRolls] += p.Rolls
	}
	for _, g := range s.Gifts() {
		if g.Pending() {
			out[g.ResourceType] += g.ResourceValue
		}
	}
	return out
}

// Property: any sequence of transfers and deliveries conserves each resource
// and never drives a balance negative.
func TestPropertyTransfer_Conservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := memory.New()
		c := NewCoordinator(s, lock.NewLocal(), zaptest.NewLogger(t))
		ids := []string{"a", "b", "c"}
		for _, id := range ids {
			p := &player.State{
				PlayerID:   id,
				DeviceID:   "dev-" + id,
				Coins:      rapid.IntRange(0, 50).Draw(rt, "coins-"+id),
				Rolls:      rapid.IntRange(0, 5).Draw(rt, "rolls-"+id),
				IsLoggedIn: rapid.Bool().Draw(rt, "online-"+id),
			}
			seed(rt, s, p)
		}
		before := totals(s, ids)
		ctx := context.Background()

		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if rapid.IntRange(0, 4).Draw(rt, fmt.Sprintf("op-%d", i)) == 0 {
				who := rapid.SampledFrom(ids).Draw(rt, "deliver-to")
				err := storage.WithTx(ctx, s, func(tx storage.Tx) error {
					_, err := c.DeliverQueued(ctx, tx, who)
					return err
				})
				if err != nil {
					rt.Fatalf("deliver: %v", err)
				}
				continue
			}
			req := Request{
				SenderID:     rapid.SampledFrom(ids).Draw(rt, "from"),
				RecipientID:  rapid.SampledFrom(ids).Draw(rt, "to"),
				ResourceType: rapid.SampledFrom([]string{player.ResourceCoins, player.ResourceRolls}).Draw(rt, "res"),
				Amount:       rapid.IntRange(1, 30).Draw(rt, "amount"),
			}
			_, err := c.Transfer(ctx, req)
			if err != nil && !errors.Is(err, ErrInsufficientResources) && !errors.Is(err, ErrSelfTransfer) {
				rt.Fatalf("transfer %+v: %v", req, err)
			}
		}

		after := totals(s, ids)
		if before[player.ResourceCoins] != after[player.ResourceCoins] || before[player.ResourceRolls] != after[player.ResourceRolls] {
			rt.Fatalf("resources not conserved: before=%v after=%v", before, after)
		}
		for _, id := range ids {
			p, _ := s.Player(id)
			if p.Coins < 0 || p.Rolls < 0 {
				rt.Fatalf("negative balance for %s: %+v", id, p)
			}
		}
	})
}
