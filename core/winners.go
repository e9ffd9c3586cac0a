package core

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Result is the ranked list of mutually exclusive allocations of one group.
// The first allocation is the winning one.
type Result struct {
	Allocations []Allocation `json:"allocations"`
}

// candidate is an allocation under construction in the combination arena.
type candidate struct {
	Allocation
	lastSeed int // index of the highest seed contained, -1 for the global bid
}

// DetermineWinners computes the revenue maximizing assignment of slots from the highest
// bids placed no later than cutoff (all bids if cutoff is nil).
//
// Processing flow:
//  1. Take the highest bid of every local choice as a seed
//  2. Enumerate every combination of pairwise disjoint seeds
//  3. Add the highest global bid on its own
//  4. Rank by total price (ties: earliest completion, then more bids)
//  5. Drop allocations whose bids are all claimed by a higher ranked one
//
// Step 2 is exponential in the number of seeds; SlotConfig.Validate bounds it through
// MaxGlobalSlots.
func DetermineWinners(ctx context.Context, ledger Ledger, group GroupID, slots SlotConfig, cutoff *time.Duration) (*Result, error) {
	seeds := make([]Bid, 0, slots.GlobalSlots)
	for _, value := range LocalValues(slots.GlobalSlots, slots.LocalSlots) {
		highest, err := Highest(ctx, ledger, group, value, cutoff)
		if err != nil {
			return nil, err
		}
		if highest != nil {
			seeds = append(seeds, *highest)
		}
	}

	candidates := combineSeeds(seeds)

	globalHighest, err := Highest(ctx, ledger, group, GlobalValue(slots.GlobalSlots), cutoff)
	if err != nil {
		return nil, err
	}
	if globalHighest != nil {
		candidates = append(candidates, candidate{
			Allocation: Allocation{
				Price: globalHighest.Price,
				Slots: globalHighest.Slots,
				Bids:  []Bid{*globalHighest},
			},
			lastSeed: -1,
		})
	}

	rankCandidates(candidates)

	return &Result{Allocations: exclusiveAllocations(candidates)}, nil
}

// combineSeeds builds the closure of disjoint seed combinations.
// The arena is traversed by index while it grows; a candidate is only extended with seeds
// after its last one so every disjoint subset is generated exactly once.
func combineSeeds(seeds []Bid) []candidate {
	arena := make([]candidate, 0, len(seeds))
	for i, seed := range seeds {
		arena = append(arena, candidate{
			Allocation: Allocation{Price: seed.Price, Slots: seed.Slots, Bids: []Bid{seed}},
			lastSeed:   i,
		})
	}

	for next := 0; next < len(arena); next++ {
		current := arena[next]
		for j := current.lastSeed + 1; j < len(seeds); j++ {
			seed := seeds[j]
			if current.Slots.Overlaps(seed.Slots) {
				continue
			}

			bids := make([]Bid, 0, len(current.Bids)+1)
			bids = append(bids, current.Bids...)
			bids = append(bids, seed)

			arena = append(arena, candidate{
				Allocation: Allocation{
					Price: current.Price + seed.Price,
					Slots: current.Slots | seed.Slots,
					Bids:  bids,
				},
				lastSeed: j,
			})
		}
	}

	return arena
}

// rankCandidates sorts by price descending. Equal prices prefer the allocation completed
// first, then the one with more bids; remaining ties keep generation order.
func rankCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Price != b.Price {
			return a.Price > b.Price
		}
		if ca, cb := a.completedAt(), b.completedAt(); ca != cb {
			return ca < cb
		}
		return len(a.Bids) > len(b.Bids)
	})
}

func exclusiveAllocations(ranked []candidate) []Allocation {
	used := make(map[string]bool)
	result := make([]Allocation, 0)

	for _, c := range ranked {
		claimed := true
		for _, bid := range c.Bids {
			if !used[bid.ID] {
				claimed = false
				break
			}
		}
		if claimed {
			continue
		}

		for _, bid := range c.Bids {
			used[bid.ID] = true
		}

		alloc := c.Allocation
		sort.Slice(alloc.Bids, func(i, j int) bool {
			return alloc.Bids[i].Slots.FirstSlot() < alloc.Bids[j].Slots.FirstSlot()
		})
		result = append(result, alloc)
	}

	return result
}

// HasWinner reports whether any allocation exists.
func (r *Result) HasWinner() bool {
	return r != nil && len(r.Allocations) > 0
}

// Winner returns the canonical allocation.
func (r *Result) Winner() (Allocation, bool) {
	if !r.HasWinner() {
		return Allocation{}, false
	}
	return r.Allocations[0], true
}

// Profit sums valuation minus price over the winning bids of player.
func (r *Result) Profit(player PlayerID, valuations Valuations) Currency {
	winner, ok := r.Winner()
	if !ok {
		return 0
	}

	var profit Currency
	for _, bid := range winner.Bids {
		if bid.Player == player {
			profit += valuations.Valuation(bid.Slots) - bid.Price
		}
	}
	return profit
}

// Table lays out allocations as gap-filled span rows covering n slots.
// Only the winning allocation is included unless all is set.
func (r *Result) Table(n int, all bool) [][]Span {
	if !r.HasWinner() {
		return [][]Span{}
	}

	allocations := r.Allocations
	if !all {
		allocations = allocations[:1]
	}

	table := make([][]Span, 0, len(allocations))
	for _, alloc := range allocations {
		table = append(table, alloc.Spans(n))
	}
	return table
}

// Spans converts the allocation into a row of spans ordered by starting slot.
func (a Allocation) Spans(n int) []Span {
	bids := make([]Bid, len(a.Bids))
	copy(bids, a.Bids)
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].Slots.FirstSlot() < bids[j].Slots.FirstSlot()
	})

	spans := make([]Span, 0, 2*len(bids)+1)
	cursor := 0
	for _, bid := range bids {
		first := bid.Slots.FirstSlot()
		if first > cursor {
			spans = append(spans, Span{Width: first - cursor})
		}
		spans = append(spans, Span{Width: bid.Slots.SlotCount(), Player: bid.Player, Price: bid.Price})
		cursor = bid.Slots.LastSlot() + 1
	}
	if cursor < n {
		spans = append(spans, Span{Width: n - cursor})
	}
	return spans
}

// String renders the allocation for logs.
func (a Allocation) String() string {
	return fmt.Sprintf("%s on %b (%d bids)", a.Price, a.Slots, len(a.Bids))
}
