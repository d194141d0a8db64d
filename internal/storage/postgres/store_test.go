package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/coinroll/internal/game/gift"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/lock"
	"github.com/cory-johannsen/coinroll/internal/storage"
	"github.com/cory-johannsen/coinroll/internal/storage/postgres"
	"github.com/cory-johannsen/coinroll/internal/storage/storagetest"
	"github.com/cory-johannsen/coinroll/internal/testutil"
)

func TestPostgresStoreConformance(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	suite.Run(t, &storagetest.Suite{
		NewStore: func(t *testing.T) storage.Store { return postgres.NewStore(pc.NewPool(t)) },
	})
}

func TestPostgresStore_Health(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	store := postgres.NewStore(pc.NewPool(t))
	assert.NoError(t, store.Health(context.Background(), time.Second))
	require.NoError(t, store.Close())
	assert.Error(t, store.Health(context.Background(), time.Second), "closed pool")
}

func TestPostgresStore_TxHoldsOneConnection(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()
	pool := pc.NewPool(t)
	store := postgres.NewStore(pool)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), pool.InUse())
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, int32(0), pool.InUse())
}

// Two processes share one database but not a lock service: the row locks
// taken by PlayerByID must still keep concurrent transfers consistent.
func TestPostgresStore_TransfersWithSeparateLockers(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()
	store := postgres.NewStore(pc.NewPool(t))

	a := fmt.Sprintf("a-%d", time.Now().UnixNano())
	b := fmt.Sprintf("b-%d", time.Now().UnixNano())
	require.NoError(t, storage.WithTx(ctx, store, func(tx storage.Tx) error {
		for _, id := range []string{a, b} {
			if err := tx.InsertPlayer(ctx, &player.State{
				PlayerID: id, DeviceID: "dev-" + id, Coins: 1000, Rolls: 10, IsLoggedIn: true,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	logger := zaptest.NewLogger(t)
	left := gift.NewCoordinator(store, lock.NewLocal(), logger)
	right := gift.NewCoordinator(store, lock.NewLocal(), logger)

	const rounds = 20
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := left.Transfer(ctx, gift.Request{SenderID: a, RecipientID: b, ResourceType: player.ResourceCoins, Amount: 3})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := right.Transfer(ctx, gift.Request{SenderID: b, RecipientID: a, ResourceType: player.ResourceCoins, Amount: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, storage.WithTx(ctx, store, func(tx storage.Tx) error {
		pa, err := tx.PlayerByID(ctx, a)
		require.NoError(t, err)
		pb, err := tx.PlayerByID(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, 1000-rounds*3+rounds, pa.Coins)
		assert.Equal(t, 1000+rounds*3-rounds, pb.Coins)

		ab, err := tx.GiftsBetween(ctx, a, b)
		require.NoError(t, err)
		assert.Len(t, ab, rounds)
		return nil
	}))
}
