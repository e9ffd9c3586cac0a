package core

import "time"

// GroupID identifies a bidding group within a round.
type GroupID int64

// PlayerID is a bidder's 1-based position within its group.
type PlayerID int

// Bid represents a single accepted bid on a slot combination.
type Bid struct {
	ID        string        `json:"id"`
	Group     GroupID       `json:"group"`
	Player    PlayerID      `json:"player"`
	Slots     SlotMask      `json:"slots"`
	Price     Currency      `json:"price"`
	Timestamp time.Duration `json:"timestamp"` // elapsed since the group's timer start
}

// Role determines which slot combinations a bidder values.
type Role string

const (
	RoleGlobal Role = "global"
	RoleLocal  Role = "local"
)

// Bidder is a group member together with its private valuations for the round.
type Bidder struct {
	ID         PlayerID
	Role       Role
	Valuations Valuations
}

// Allocation is one feasible assignment of slots: a set of pairwise disjoint bids.
type Allocation struct {
	// Price is the summed price of all bids
	Price Currency `json:"price"`

	// Slots is the union of all bid masks
	Slots SlotMask `json:"slots"`

	// Bids are the contributing bids ordered by first slot
	Bids []Bid `json:"bids"`
}

// completedAt returns the latest timestamp among the allocation's bids.
func (a Allocation) completedAt() time.Duration {
	var latest time.Duration
	for _, bid := range a.Bids {
		if bid.Timestamp > latest {
			latest = bid.Timestamp
		}
	}
	return latest
}

// Span is a contiguous run of slots in a result table row.
// Gaps not covered by any bid carry Player 0 and a zero Price.
type Span struct {
	Width  int      `json:"width"`
	Player PlayerID `json:"player"`
	Price  Currency `json:"price"`
}
