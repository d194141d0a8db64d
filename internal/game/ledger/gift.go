// Package ledger defines the durable gift record shared by the storage
// backends and the gift coordinator.
package ledger

import "time"

// Gift records one resource transfer between two players.
//
// A queued gift (Queued=true) is a pending-delivery entry: its value has been
// debited from the sender but not yet credited to the recipient. Delivered
// flips to true exactly once, when the recipient next logs in. A gift with
// Queued=false is a history record of a transfer that was credited
// immediately and is never drained.
type Gift struct {
	ID                int64
	SenderPlayerID    string
	RecipientPlayerID string
	ResourceType      string
	ResourceValue     int
	Queued            bool
	Delivered         bool
	CreatedAt         time.Time
}

// Pending reports whether g still awaits delivery.
func (g *Gift) Pending() bool {
	return g.Queued && !g.Delivered
}
