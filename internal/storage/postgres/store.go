package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/storage"
)

const playerColumns = `player_id, device_id, coins, rolls, is_logged_in`

const giftColumns = `id, sender_player_id, recipient_player_id, resource_type,
	resource_value, queued, delivered, created_at`

// Store implements storage.Store on a pgx connection pool.
//
// Player reads inside a Tx take row locks (SELECT ... FOR UPDATE) that are
// held until the Tx ends.
type Store struct {
	pool *Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a Store backed by pool. The Store owns the pool: Close
// closes it.
//
// Precondition: pool must be connected and migrated.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Begin opens a read-committed transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning postgres transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Health pings the database within timeout.
func (s *Store) Health(ctx context.Context, timeout time.Duration) error {
	return s.pool.Health(ctx, timeout)
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func scanPlayer(row pgx.Row) (*player.State, error) {
	var p player.State
	if err := row.Scan(&p.PlayerID, &p.DeviceID, &p.Coins, &p.Rolls, &p.IsLoggedIn); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrPlayerNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) PlayerByID(ctx context.Context, playerID string) (*player.State, error) {
	p, err := scanPlayer(t.tx.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM player_states WHERE player_id = $1 FOR UPDATE`,
		playerID,
	))
	if err != nil && !errors.Is(err, storage.ErrPlayerNotFound) {
		return nil, fmt.Errorf("querying player %s: %w", playerID, err)
	}
	return p, err
}

func (t *pgTx) PlayerByDeviceID(ctx context.Context, deviceID string) (*player.State, error) {
	p, err := scanPlayer(t.tx.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM player_states WHERE device_id = $1 FOR UPDATE`,
		deviceID,
	))
	if err != nil && !errors.Is(err, storage.ErrPlayerNotFound) {
		return nil, fmt.Errorf("querying device %s: %w", deviceID, err)
	}
	return p, err
}

func (t *pgTx) InsertPlayer(ctx context.Context, s *player.State) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO player_states (`+playerColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		s.PlayerID, s.DeviceID, s.Coins, s.Rolls, s.IsLoggedIn,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDeviceTaken
		}
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

func (t *pgTx) SavePlayer(ctx context.Context, s *player.State) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE player_states
		 SET coins = $2, rolls = $3, is_logged_in = $4, updated_at = NOW()
		 WHERE player_id = $1`,
		s.PlayerID, s.Coins, s.Rolls, s.IsLoggedIn,
	)
	if err != nil {
		return fmt.Errorf("updating player %s: %w", s.PlayerID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrPlayerNotFound
	}
	return nil
}

func (t *pgTx) LoggedInPlayers(ctx context.Context) ([]*player.State, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+playerColumns+` FROM player_states WHERE is_logged_in ORDER BY player_id`)
	if err != nil {
		return nil, fmt.Errorf("querying logged-in players: %w", err)
	}
	players, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*player.State, error) {
		return scanPlayer(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning players: %w", err)
	}
	return players, nil
}

func (t *pgTx) InsertGift(ctx context.Context, g *ledger.Gift) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO gifts (sender_player_id, recipient_player_id, resource_type,
			resource_value, queued, delivered)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		g.SenderPlayerID, g.RecipientPlayerID, g.ResourceType,
		g.ResourceValue, g.Queued, g.Delivered,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting gift: %w", err)
	}
	return nil
}

func (t *pgTx) queryGifts(ctx context.Context, where string, args ...any) ([]*ledger.Gift, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+giftColumns+` FROM gifts WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying gifts: %w", err)
	}
	gifts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*ledger.Gift, error) {
		var g ledger.Gift
		err := row.Scan(&g.ID, &g.SenderPlayerID, &g.RecipientPlayerID, &g.ResourceType,
			&g.ResourceValue, &g.Queued, &g.Delivered, &g.CreatedAt)
		return &g, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning gifts: %w", err)
	}
	return gifts, nil
}

func (t *pgTx) QueuedGifts(ctx context.Context, recipientID string) ([]*ledger.Gift, error) {
	return t.queryGifts(ctx, `recipient_player_id = $1 AND queued AND NOT delivered`, recipientID)
}

func (t *pgTx) MarkGiftDelivered(ctx context.Context, giftID int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE gifts SET delivered = TRUE WHERE id = $1 AND queued AND NOT delivered`,
		giftID,
	)
	if err != nil {
		return fmt.Errorf("marking gift %d delivered: %w", giftID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrGiftNotFound
	}
	return nil
}

func (t *pgTx) GiftsBetween(ctx context.Context, senderID, recipientID string) ([]*ledger.Gift, error) {
	return t.queryGifts(ctx, `sender_player_id = $1 AND recipient_player_id = $2`, senderID, recipientID)
}

func (t *pgTx) GiftsFor(ctx context.Context, recipientID string) ([]*ledger.Gift, error) {
	return t.queryGifts(ctx, `recipient_player_id = $1`, recipientID)
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return storage.ErrTxDone
		}
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
