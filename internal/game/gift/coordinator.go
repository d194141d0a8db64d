// Package gift implements the gift transfer coordinator: debit the sender,
// then credit an online recipient or queue the gift for an offline one, all
// inside one storage transaction.
package gift

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
	"github.com/cory-johannsen/coinroll/internal/lock"
	"github.com/cory-johannsen/coinroll/internal/storage"
)

var (
	// ErrInvalidAmount is returned when a transfer amount is not positive.
	ErrInvalidAmount = errors.New("gift amount must be positive")
	// ErrSelfTransfer is returned when sender and recipient are the same player.
	ErrSelfTransfer = errors.New("cannot gift to self")
	// ErrUnknownResource is returned for an unrecognised resource type.
	ErrUnknownResource = errors.New("unknown resource type")
	// ErrInsufficientResources is returned when the sender cannot cover the amount.
	ErrInsufficientResources = errors.New("insufficient resources")
)

// Request describes one transfer.
type Request struct {
	SenderID     string
	RecipientID  string
	ResourceType string
	Amount       int
}

// Validate checks the request without touching storage.
func (r Request) Validate() error {
	if r.Amount <= 0 {
		return ErrInvalidAmount
	}
	if r.SenderID == r.RecipientID {
		return ErrSelfTransfer
	}
	if !player.ValidResourceType(r.ResourceType) {
		return ErrUnknownResource
	}
	return nil
}

// Result reports the outcome of a successful transfer.
type Result struct {
	// Gift is the ledger record written by the transfer.
	Gift ledger.Gift
	// Queued is true when the recipient was offline and has not been credited.
	Queued bool
}

// Coordinator executes transfers and queued deliveries.
// All methods are safe for concurrent use.
type Coordinator struct {
	store  storage.Store
	locker lock.Locker
	logger *zap.Logger
}

// NewCoordinator creates a Coordinator.
//
// Precondition: store, locker and logger must be non-nil.
func NewCoordinator(store storage.Store, locker lock.Locker, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: store, locker: locker, logger: logger}
}

// Transfer moves req.Amount of req.ResourceType from sender to recipient.
//
// Precondition: req passes Validate.
// Postcondition: On success the sender has been debited and either the
// recipient credited (Queued=false) or a pending gift recorded (Queued=true).
// On any error no balance or ledger change is visible. Returns
// storage.ErrPlayerNotFound when either player is missing and
// ErrInsufficientResources when the sender cannot cover the amount.
func (c *Coordinator) Transfer(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	release, err := c.locker.Acquire(ctx, lock.PlayerKey(req.SenderID), lock.PlayerKey(req.RecipientID))
	if err != nil {
		return Result{}, fmt.Errorf("locking players: %w", err)
	}
	defer release()

	var res Result
	err = storage.WithTx(ctx, c.store, func(tx storage.Tx) error {
		var txErr error
		res, txErr = c.transfer(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return Result{}, err
	}

	if res.Queued {
		c.logger.Info("gift queued for offline recipient",
			zap.String("sender", req.SenderID),
			zap.String("recipient", req.RecipientID),
			zap.String("resource", req.ResourceType),
			zap.Int("value", req.Amount),
			zap.Int64("gift_id", res.Gift.ID),
		)
	} else {
		c.logger.Info("gift sent",
			zap.String("sender", req.SenderID),
			zap.String("recipient", req.RecipientID),
			zap.String("resource", req.ResourceType),
			zap.Int("value", req.Amount),
			zap.Int64("gift_id", res.Gift.ID),
		)
	}
	return res, nil
}

func (c *Coordinator) transfer(ctx context.Context, tx storage.Tx, req Request) (Result, error) {
	players, err := loadPair(ctx, tx, req.SenderID, req.RecipientID)
	if err != nil {
		return Result{}, err
	}
	sender, recipient := players[req.SenderID], players[req.RecipientID]

	if !player.ApplyDelta(sender, req.ResourceType, -req.Amount) {
		return Result{}, ErrInsufficientResources
	}
	if err := tx.SavePlayer(ctx, sender); err != nil {
		return Result{}, fmt.Errorf("saving sender: %w", err)
	}

	g := &ledger.Gift{
		SenderPlayerID:    req.SenderID,
		RecipientPlayerID: req.RecipientID,
		ResourceType:      req.ResourceType,
		ResourceValue:     req.Amount,
	}

	if !recipient.IsLoggedIn {
		g.Queued = true
		if err := tx.InsertGift(ctx, g); err != nil {
			return Result{}, fmt.Errorf("queueing gift: %w", err)
		}
		return Result{Gift: *g, Queued: true}, nil
	}

	if !player.ApplyDelta(recipient, req.ResourceType, req.Amount) {
		// Positive credits on a valid resource cannot fail.
		return Result{}, fmt.Errorf("crediting recipient %s", req.RecipientID)
	}
	if err := tx.SavePlayer(ctx, recipient); err != nil {
		return Result{}, fmt.Errorf("saving recipient: %w", err)
	}
	if err := tx.InsertGift(ctx, g); err != nil {
		return Result{}, fmt.Errorf("recording gift: %w", err)
	}
	return Result{Gift: *g}, nil
}

// loadPair loads both players in id order so that backends taking row locks
// always lock in the same order.
func loadPair(ctx context.Context, tx storage.Tx, ids ...string) (map[string]*player.State, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	out := make(map[string]*player.State, len(sorted))
	for _, id := range sorted {
		p, err := tx.PlayerByID(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrPlayerNotFound) {
				return nil, storage.ErrPlayerNotFound
			}
			return nil, fmt.Errorf("loading player %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

// DeliverQueued credits every pending gift addressed to recipientID inside tx
// and marks each delivered.
//
// Precondition: The caller holds the recipient's player lock and tx is open.
// Postcondition: Returns the gifts delivered, in ledger order. A gift whose
// recipient cannot be loaded, or whose resource type is no longer recognised,
// is skipped and stays pending. Returns an error only for storage failures,
// in which case the caller must abandon tx.
func (c *Coordinator) DeliverQueued(ctx context.Context, tx storage.Tx, recipientID string) ([]ledger.Gift, error) {
	queued, err := tx.QueuedGifts(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("listing queued gifts: %w", err)
	}
	if len(queued) == 0 {
		c.logger.Debug("no queued gifts", zap.String("player", recipientID))
		return nil, nil
	}

	delivered := make([]ledger.Gift, 0, len(queued))
	for _, g := range queued {
		recipient, err := tx.PlayerByID(ctx, recipientID)
		if err != nil {
			if errors.Is(err, storage.ErrPlayerNotFound) {
				c.logger.Warn("skipping gift for missing recipient",
					zap.Int64("gift_id", g.ID),
					zap.String("recipient", recipientID),
				)
				continue
			}
			return nil, fmt.Errorf("loading recipient: %w", err)
		}
		if !player.ApplyDelta(recipient, g.ResourceType, g.ResourceValue) {
			c.logger.Warn("skipping gift with unusable resource",
				zap.Int64("gift_id", g.ID),
				zap.String("resource", g.ResourceType),
				zap.Int("value", g.ResourceValue),
			)
			continue
		}
		if err := tx.SavePlayer(ctx, recipient); err != nil {
			return nil, fmt.Errorf("crediting gift %d: %w", g.ID, err)
		}
		if err := tx.MarkGiftDelivered(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("marking gift %d delivered: %w", g.ID, err)
		}
		g.Delivered = true
		delivered = append(delivered, *g)

		c.logger.Info("delivered queued gift",
			zap.Int64("gift_id", g.ID),
			zap.String("sender", g.SenderPlayerID),
			zap.String("recipient", recipientID),
			zap.String("resource", g.ResourceType),
			zap.Int("value", g.ResourceValue),
		)
	}
	return delivered, nil
}
