// Package player provides the per-player state record and the resource engine
// that applies balance changes to it.
package player

import "strings"

// Resource types recognised by the resource engine.
const (
	ResourceCoins = "coins"
	ResourceRolls = "rolls"
)

// Default starting balances for a newly created player.
const (
	DefaultStartingCoins = 100
	DefaultStartingRolls = 10
)

// State is the mutable record of one player.
type State struct {
	// PlayerID is the stable unique identifier assigned at creation.
	PlayerID string
	// DeviceID identifies the client installation; unique across players.
	DeviceID string
	// Coins is the coin balance. Never negative.
	Coins int
	// Rolls is the roll balance. Never negative.
	Rolls int
	// IsLoggedIn is true while a connection holds the player's session.
	IsLoggedIn bool
}

// Clone returns an independent copy of s.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// ValidResourceType reports whether rt names a recognised resource.
func ValidResourceType(rt string) bool {
	switch rt {
	case ResourceCoins, ResourceRolls:
		return true
	}
	return false
}

// NormalizeResourceType trims surrounding whitespace from rt.
// Matching is case-sensitive; "Coins" is not a resource.
func NormalizeResourceType(rt string) string {
	return strings.TrimSpace(rt)
}

// ApplyDelta adds amount (which may be negative) to the named resource.
//
// Precondition: s must be non-nil.
// Postcondition: Returns true and mutates s when resourceType is recognised and the
// resulting balance is >= 0. Returns false and leaves s untouched otherwise.
// The change is in memory only; the caller persists s.
func ApplyDelta(s *State, resourceType string, amount int) bool {
	var balance *int
	switch resourceType {
	case ResourceCoins:
		balance = &s.Coins
	case ResourceRolls:
		balance = &s.Rolls
	default:
		return false
	}
	if *balance+amount < 0 {
		return false
	}
	*balance += amount
	return true
}

// Resource returns the balance of the named resource, or 0 if resourceType
// is not recognised.
func Resource(s *State, resourceType string) int {
	switch resourceType {
	case ResourceCoins:
		return s.Coins
	case ResourceRolls:
		return s.Rolls
	}
	return 0
}
