package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger is the append-only store of accepted bids.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Append stores a bid unconditionally. An empty ID is filled in.
	Append(ctx context.Context, bid Bid) (Bid, error)

	// Query returns the bids of a group on exactly slots, ordered by timestamp and then
	// insertion. A non-nil asOf excludes bids placed after it.
	Query(ctx context.Context, group GroupID, slots SlotMask, asOf *time.Duration) ([]Bid, error)

	// ForPlayer returns all bids of one player, ordered by timestamp.
	ForPlayer(ctx context.Context, group GroupID, player PlayerID) ([]Bid, error)

	// Count returns the number of bids stored for a group.
	Count(ctx context.Context, group GroupID) (int, error)
}

// At returns a cutoff for Query and Highest.
func At(d time.Duration) *time.Duration {
	return &d
}

// Highest returns the highest priced bid on (group, slots) placed no later than asOf,
// or nil if there is none. On equal prices the earliest bid is kept.
func Highest(ctx context.Context, ledger Ledger, group GroupID, slots SlotMask, asOf *time.Duration) (*Bid, error) {
	bids, err := ledger.Query(ctx, group, slots, asOf)
	if err != nil {
		return nil, fmt.Errorf("query bids for slots %d: %w", slots, err)
	}

	var result *Bid
	for i := range bids {
		if result == nil || result.Price < bids[i].Price {
			result = &bids[i]
		}
	}
	return result, nil
}

// GroupBids returns every bid of a group on a valid slot combination of the layout,
// ordered by timestamp.
func GroupBids(ctx context.Context, ledger Ledger, group GroupID, slots SlotConfig, asOf *time.Duration) ([]Bid, error) {
	var result []Bid
	for _, value := range ValidValues(slots.GlobalSlots, slots.LocalSlots) {
		bids, err := ledger.Query(ctx, group, value, asOf)
		if err != nil {
			return nil, fmt.Errorf("query bids for slots %d: %w", value, err)
		}
		result = append(result, bids...)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result, nil
}

// MemoryLedger keeps bids in process memory.
type MemoryLedger struct {
	mu   sync.RWMutex
	bids []Bid
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(_ context.Context, bid Bid) (Bid, error) {
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.bids = append(l.bids, bid)
	return bid, nil
}

func (l *MemoryLedger) Query(_ context.Context, group GroupID, slots SlotMask, asOf *time.Duration) ([]Bid, error) {
	return l.filter(func(b Bid) bool {
		return b.Group == group && b.Slots == slots && (asOf == nil || b.Timestamp <= *asOf)
	}), nil
}

func (l *MemoryLedger) ForPlayer(_ context.Context, group GroupID, player PlayerID) ([]Bid, error) {
	return l.filter(func(b Bid) bool {
		return b.Group == group && b.Player == player
	}), nil
}

func (l *MemoryLedger) Count(_ context.Context, group GroupID) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, b := range l.bids {
		if b.Group == group {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) filter(keep func(Bid) bool) []Bid {
	l.mu.RLock()
	result := make([]Bid, 0)
	for _, b := range l.bids {
		if keep(b) {
			result = append(result, b)
		}
	}
	l.mu.RUnlock()

	// Stable sort keeps insertion order for equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result
}
