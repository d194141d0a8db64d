// Package sqlite provides single-node persistence on SQLite.
//
// The database runs in WAL mode and every transaction starts with
// BEGIN IMMEDIATE, so writers are serialized by SQLite itself and a
// read-modify-write inside a Tx never loses an update.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/storage"
)

// busyTimeout is how long a writer waits for the database lock.
const busyTimeout = 5 * time.Second

const playerColumns = `player_id, device_id, coins, rolls, is_logged_in`

const giftColumns = `id, sender_player_id, recipient_player_id, resource_type,
	resource_value, queued, delivered, created_at`

// Store implements storage.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// DSN returns the go-sqlite3 connection string for path.
func DSN(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path and verifies the connection.
//
// Precondition: path must be writable; the schema must already be migrated.
// Postcondition: Returns an open Store or a non-nil error.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Begin opens an immediate (write-locking) transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sqlite transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// Health pings the database within timeout.
func (s *Store) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row scanner) (*player.State, error) {
	var p player.State
	if err := row.Scan(&p.PlayerID, &p.DeviceID, &p.Coins, &p.Rolls, &p.IsLoggedIn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrPlayerNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (t *sqliteTx) queryPlayer(ctx context.Context, column, value string) (*player.State, error) {
	p, err := scanPlayer(t.tx.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM player_states WHERE `+column+` = ?`, value))
	if err != nil && !errors.Is(err, storage.ErrPlayerNotFound) {
		return nil, fmt.Errorf("querying player by %s: %w", column, err)
	}
	return p, err
}

func (t *sqliteTx) PlayerByID(ctx context.Context, playerID string) (*player.State, error) {
	return t.queryPlayer(ctx, "player_id", playerID)
}

func (t *sqliteTx) PlayerByDeviceID(ctx context.Context, deviceID string) (*player.State, error) {
	return t.queryPlayer(ctx, "device_id", deviceID)
}

func (t *sqliteTx) InsertPlayer(ctx context.Context, s *player.State) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO player_states (`+playerColumns+`) VALUES (?, ?, ?, ?, ?)`,
		s.PlayerID, s.DeviceID, s.Coins, s.Rolls, s.IsLoggedIn,
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDeviceTaken
		}
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

func (t *sqliteTx) SavePlayer(ctx context.Context, s *player.State) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE player_states
		 SET coins = ?, rolls = ?, is_logged_in = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE player_id = ?`,
		s.Coins, s.Rolls, s.IsLoggedIn, s.PlayerID,
	)
	if err != nil {
		return fmt.Errorf("updating player %s: %w", s.PlayerID, err)
	}
	return expectRow(res, storage.ErrPlayerNotFound)
}

func (t *sqliteTx) LoggedInPlayers(ctx context.Context) ([]*player.State, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM player_states WHERE is_logged_in ORDER BY player_id`)
	if err != nil {
		return nil, fmt.Errorf("querying logged-in players: %w", err)
	}
	defer rows.Close()

	var players []*player.State
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (t *sqliteTx) InsertGift(ctx context.Context, g *ledger.Gift) error {
	createdAt := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO gifts (sender_player_id, recipient_player_id, resource_type,
			resource_value, queued, delivered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.SenderPlayerID, g.RecipientPlayerID, g.ResourceType,
		g.ResourceValue, g.Queued, g.Delivered, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting gift: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading gift id: %w", err)
	}
	g.ID = id
	g.CreatedAt = createdAt
	return nil
}

func (t *sqliteTx) queryGifts(ctx context.Context, where string, args ...any) ([]*ledger.Gift, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+giftColumns+` FROM gifts WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying gifts: %w", err)
	}
	defer rows.Close()

	var gifts []*ledger.Gift
	for rows.Next() {
		var g ledger.Gift
		if err := rows.Scan(&g.ID, &g.SenderPlayerID, &g.RecipientPlayerID, &g.ResourceType,
			&g.ResourceValue, &g.Queued, &g.Delivered, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning gift: %w", err)
		}
		gifts = append(gifts, &g)
	}
	return gifts, rows.Err()
}

func (t *sqliteTx) QueuedGifts(ctx context.Context, recipientID string) ([]*ledger.Gift, error) {
	return t.queryGifts(ctx, `recipient_player_id = ? AND queued AND NOT delivered`, recipientID)
}

func (t *sqliteTx) MarkGiftDelivered(ctx context.Context, giftID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE gifts SET delivered = 1 WHERE id = ? AND queued AND NOT delivered`, giftID)
	if err != nil {
		return fmt.Errorf("marking gift %d delivered: %w", giftID, err)
	}
	return expectRow(res, storage.ErrGiftNotFound)
}

func (t *sqliteTx) GiftsBetween(ctx context.Context, senderID, recipientID string) ([]*ledger.Gift, error) {
	return t.queryGifts(ctx, `sender_player_id = ? AND recipient_player_id = ?`, senderID, recipientID)
}

func (t *sqliteTx) GiftsFor(ctx context.Context, recipientID string) ([]*ledger.Gift, error) {
	return t.queryGifts(ctx, `recipient_player_id = ?`, recipientID)
}

func (t *sqliteTx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return storage.ErrTxDone
		}
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// isConstraintError reports whether err is a UNIQUE or PRIMARY KEY violation.
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
