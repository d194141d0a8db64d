// Package memory provides an in-process Store used by tests and by the
// "memory" database driver for local development.
//
// Transactions are fully serialized: Begin blocks until the previous
// transaction commits or rolls back.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/storage"
)

// ErrClosed is returned by Begin after Close.
var ErrClosed = errors.New("memory store closed")

// FaultFunc is consulted before every Tx operation; a non-nil return fails it.
type FaultFunc func(op string) error

// Store is an in-memory implementation of storage.Store.
type Store struct {
	sem chan struct{}

	mu         sync.Mutex // guards the fields below for readers outside a Tx
	players    map[string]*player.State
	devices    map[string]string // deviceID → playerID
	gifts      []*ledger.Gift
	nextGiftID int64
	closed     bool
	fault      FaultFunc
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sem:        make(chan struct{}, 1),
		players:    make(map[string]*player.State),
		devices:    make(map[string]string),
		nextGiftID: 1,
	}
}

var _ storage.Store = (*Store)(nil)

// SetFault installs f as the fault hook. Pass nil to clear it.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Begin waits for exclusive access and opens a transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		<-s.sem
		return nil, ErrClosed
	}
	return &tx{
		s:         s,
		players:   make(map[string]*player.State),
		devices:   make(map[string]string),
		delivered: make(map[int64]bool),
	}, nil
}

// Health always succeeds unless the store is closed.
func (s *Store) Health(_ context.Context, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. Open transactions may still finish.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PlayerCount returns the number of committed players.
func (s *Store) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// Player returns a copy of the committed state for playerID.
func (s *Store) Player(playerID string) (*player.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Gifts returns copies of every committed gift in ID order.
func (s *Store) Gifts() []ledger.Gift {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Gift, 0, len(s.gifts))
	for _, g := range s.gifts {
		out = append(out, *g)
	}
	return out
}

// tx stages writes and applies them to the Store on Commit.
type tx struct {
	s         *Store
	players   map[string]*player.State // staged player writes by id
	devices   map[string]string        // staged device index entries
	gifts     []*ledger.Gift           // staged inserts
	delivered map[int64]bool           // staged delivered flips
	done      bool
}

func (t *tx) check(op string) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.s.mu.Lock()
	f := t.s.fault
	t.s.mu.Unlock()
	if f != nil {
		if err := f(op); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (t *tx) lookup(playerID string) (*player.State, bool) {
	if p, ok := t.players[playerID]; ok {
		return p, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.players[playerID]
	return p, ok
}

func (t *tx) PlayerByID(_ context.Context, playerID string) (*player.State, error) {
	if err := t.check("PlayerByID"); err != nil {
		return nil, err
	}
	p, ok := t.lookup(playerID)
	if !ok {
		return nil, storage.ErrPlayerNotFound
	}
	return p.Clone(), nil
}

func (t *tx) PlayerByDeviceID(_ context.Context, deviceID string) (*player.State, error) {
	if err := t.check("PlayerByDeviceID"); err != nil {
		return nil, err
	}
	p, ok := t.lookupDevice(deviceID)
	if !ok {
		return nil, storage.ErrPlayerNotFound
	}
	return p.Clone(), nil
}

func (t *tx) lookupDevice(deviceID string) (*player.State, bool) {
	id, ok := t.devices[deviceID]
	if !ok {
		t.s.mu.Lock()
		id, ok = t.s.devices[deviceID]
		t.s.mu.Unlock()
	}
	if !ok {
		return nil, false
	}
	return t.lookup(id)
}

func (t *tx) InsertPlayer(_ context.Context, s *player.State) error {
	if err := t.check("InsertPlayer"); err != nil {
		return err
	}
	if _, ok := t.lookup(s.PlayerID); ok {
		return storage.ErrDeviceTaken
	}
	if _, ok := t.lookupDevice(s.DeviceID); ok {
		return storage.ErrDeviceTaken
	}
	t.players[s.PlayerID] = s.Clone()
	t.devices[s.DeviceID] = s.PlayerID
	return nil
}

func (t *tx) SavePlayer(_ context.Context, s *player.State) error {
	if err := t.check("SavePlayer"); err != nil {
		return err
	}
	existing, ok := t.lookup(s.PlayerID)
	if !ok {
		return storage.ErrPlayerNotFound
	}
	updated := existing.Clone()
	updated.Coins = s.Coins
	updated.Rolls = s.Rolls
	updated.IsLoggedIn = s.IsLoggedIn
	t.players[s.PlayerID] = updated
	return nil
}

func (t *tx) LoggedInPlayers(_ context.Context) ([]*player.State, error) {
	if err := t.check("LoggedInPlayers"); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	ids := make([]string, 0, len(t.s.players))
	for id := range t.s.players {
		ids = append(ids, id)
	}
	t.s.mu.Unlock()
	for id := range t.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*player.State
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := t.lookup(id); ok && p.IsLoggedIn {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (t *tx) InsertGift(_ context.Context, g *ledger.Gift) error {
	if err := t.check("InsertGift"); err != nil {
		return err
	}
	t.s.mu.Lock()
	g.ID = t.s.nextGiftID
	t.s.nextGiftID++
	t.s.mu.Unlock()
	g.CreatedAt = time.Now().UTC()
	c := *g
	t.gifts = append(t.gifts, &c)
	return nil
}

// allGifts returns committed gifts overlaid with staged inserts and flips.
func (t *tx) allGifts() []ledger.Gift {
	t.s.mu.Lock()
	out := make([]ledger.Gift, 0, len(t.s.gifts)+len(t.gifts))
	for _, g := range t.s.gifts {
		out = append(out, *g)
	}
	t.s.mu.Unlock()
	for _, g := range t.gifts {
		out = append(out, *g)
	}
	for i := range out {
		if t.delivered[out[i].ID] {
			out[i].Delivered = true
		}
	}
	return out
}

func (t *tx) filterGifts(keep func(g *ledger.Gift) bool) []*ledger.Gift {
	var out []*ledger.Gift
	for _, g := range t.allGifts() {
		g := g
		if keep(&g) {
			out = append(out, &g)
		}
	}
	return out
}

func (t *tx) QueuedGifts(_ context.Context, recipientID string) ([]*ledger.Gift, error) {
	if err := t.check("QueuedGifts"); err != nil {
		return nil, err
	}
	return t.filterGifts(func(g *ledger.Gift) bool {
		return g.RecipientPlayerID == recipientID && g.Pending()
	}), nil
}

func (t *tx) MarkGiftDelivered(_ context.Context, giftID int64) error {
	if err := t.check("MarkGiftDelivered"); err != nil {
		return err
	}
	for _, g := range t.allGifts() {
		if g.ID == giftID && g.Pending() {
			t.delivered[giftID] = true
			return nil
		}
	}
	return storage.ErrGiftNotFound
}

func (t *tx) GiftsBetween(_ context.Context, senderID, recipientID string) ([]*ledger.Gift, error) {
	if err := t.check("GiftsBetween"); err != nil {
		return nil, err
	}
	return t.filterGifts(func(g *ledger.Gift) bool {
		return g.SenderPlayerID == senderID && g.RecipientPlayerID == recipientID
	}), nil
}

func (t *tx) GiftsFor(_ context.Context, recipientID string) ([]*ledger.Gift, error) {
	if err := t.check("GiftsFor"); err != nil {
		return nil, err
	}
	return t.filterGifts(func(g *ledger.Gift) bool {
		return g.RecipientPlayerID == recipientID
	}), nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := t.check("Commit"); err != nil {
		return err
	}
	t.s.mu.Lock()
	for id, p := range t.players {
		t.s.players[id] = p
	}
	for dev, id := range t.devices {
		t.s.devices[dev] = id
	}
	for _, g := range t.s.gifts {
		if t.delivered[g.ID] {
			g.Delivered = true
		}
	}
	for _, g := range t.gifts {
		if t.delivered[g.ID] {
			g.Delivered = true
		}
		t.s.gifts = append(t.s.gifts, g)
	}
	t.s.mu.Unlock()
	t.finish()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	<-t.s.sem
}
