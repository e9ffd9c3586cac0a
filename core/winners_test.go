package core

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func scenarioBidders(slots SlotConfig) (Bidder, Bidder, Bidder) {
	p1 := Bidder{ID: 1, Role: RoleLocal, Valuations: LocalValuations(2, 1, []Currency{Units(30), Units(0)})}
	p2 := Bidder{ID: 2, Role: RoleLocal, Valuations: LocalValuations(2, 1, []Currency{Units(0), Units(40)})}
	p3 := globalBidder(3, slots, Units(100))
	return p1, p2, p3
}

func TestDetermineWinners_LocalBidsCombined(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1, p2, p3 := scenarioBidders(slots)

	mustSubmitAt(t, a, p1, 0b01, Units(10), 1*time.Second)
	mustSubmitAt(t, a, p2, 0b10, Units(15), 2*time.Second)
	mustSubmitAt(t, a, p3, 0b11, Units(20), 3*time.Second)

	result, err := a.Winners(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 2, len(result.Allocations))

	winner, ok := result.Winner()
	assert.True(t, ok)
	check.Equal(t, Units(25), winner.Price)
	check.Equal(t, SlotMask(0b11), winner.Slots)
	check.Equal(t, 2, len(winner.Bids))
	check.Equal(t, PlayerID(1), winner.Bids[0].Player)
	check.Equal(t, PlayerID(2), winner.Bids[1].Player)

	check.Equal(t, Units(20), result.Allocations[1].Price)
	check.Equal(t, PlayerID(3), result.Allocations[1].Bids[0].Player)
}

func TestDetermineWinners_GlobalBidWins(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1, p2, p3 := scenarioBidders(slots)

	mustSubmitAt(t, a, p1, 0b01, Units(10), 1*time.Second)
	mustSubmitAt(t, a, p2, 0b10, Units(5), 2*time.Second)
	mustSubmitAt(t, a, p3, 0b11, Units(20), 3*time.Second)

	result, err := a.Winners(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 2, len(result.Allocations))

	winner, _ := result.Winner()
	check.Equal(t, Units(20), winner.Price)
	check.Equal(t, 1, len(winner.Bids))
	check.Equal(t, PlayerID(3), winner.Bids[0].Player)

	check.Equal(t, Units(15), result.Allocations[1].Price)
	check.Equal(t, 2, len(result.Allocations[1].Bids))
}

func TestDetermineWinners_Empty(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 3, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)

	result, err := a.Winners(context.Background())
	assert.NoError(t, err)
	check.False(t, result.HasWinner())
	check.Equal(t, 0, len(result.Allocations))
	check.Equal(t, [][]Span{}, result.Table(3, true))

	_, ok := result.Winner()
	check.False(t, ok)
}

func TestDetermineWinners_TieBreak(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}

	tests := []struct {
		name        string
		globalAt    time.Duration
		expectedLen int // number of bids in the winning allocation
	}{
		{"global completed first", 3 * time.Second, 1},
		{"local completed first", 8 * time.Second, 2},
		{"same completion prefers more bids", 6 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAuction(t, slots, TreatmentHard, 0)
			p1, p2, p3 := scenarioBidders(slots)

			mustSubmitAt(t, a, p1, 0b01, Units(10), 5*time.Second)
			mustSubmitAt(t, a, p2, 0b10, Units(10), 6*time.Second)
			mustSubmitAt(t, a, p3, 0b11, Units(20), tt.globalAt)

			result, err := a.Winners(context.Background())
			assert.NoError(t, err)

			winner, _ := result.Winner()
			check.Equal(t, Units(20), winner.Price)
			check.Equal(t, tt.expectedLen, len(winner.Bids))

			static, err := a.Snapshot(context.Background(), nil)
			assert.NoError(t, err)
			staticAlloc, ok := static.Static.Allocation()
			assert.True(t, ok)
			check.Equal(t, tt.expectedLen, len(staticAlloc.Bids))
		})
	}
}

func TestDetermineWinners_Cutoff(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1, p2, p3 := scenarioBidders(slots)

	mustSubmitAt(t, a, p3, 0b11, Units(20), 10*time.Second)
	mustSubmitAt(t, a, p1, 0b01, Units(15), 20*time.Second)
	mustSubmitAt(t, a, p2, 0b10, Units(15), 30*time.Second)

	result, err := DetermineWinners(context.Background(), a.Ledger, a.Group, slots, At(25*time.Second))
	assert.NoError(t, err)
	winner, _ := result.Winner()
	check.Equal(t, Units(20), winner.Price)

	result, err = DetermineWinners(context.Background(), a.Ledger, a.Group, slots, nil)
	assert.NoError(t, err)
	winner, _ = result.Winner()
	check.Equal(t, Units(30), winner.Price)
}

// disjointSubsetMax returns the best total of any disjoint subset of bids.
func disjointSubsetMax(bids []Bid) Currency {
	var best Currency
	for subset := 1; subset < 1<<len(bids); subset++ {
		var mask SlotMask
		var total Currency
		feasible := true
		for i, bid := range bids {
			if subset&(1<<i) == 0 {
				continue
			}
			if mask.Overlaps(bid.Slots) {
				feasible = false
				break
			}
			mask |= bid.Slots
			total += bid.Price
		}
		if feasible && total > best {
			best = total
		}
	}
	return best
}

func TestDetermineWinners_AllocationsAreFeasible(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 6, LocalSlots: 2}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)

	locals := []Bidder{localBidder(1, slots, Units(100)), localBidder(2, slots, Units(100))}
	global := globalBidder(3, slots, Units(200))

	// values: 0b000011, 0b001100, 0b110000, 0b000110, 0b011000
	prices := []Currency{Units(12), Units(9), Units(14), Units(25), Units(18)}
	values := LocalValues(6, 2)
	ts := time.Second
	for i, value := range values {
		mustSubmitAt(t, a, locals[i%2], value, prices[i], ts)
		ts += time.Second
	}
	mustSubmitAt(t, a, global, GlobalValue(6), Units(40), ts)

	result, err := a.Winners(context.Background())
	assert.NoError(t, err)
	assert.True(t, result.HasWinner())

	seen := make(map[string]bool)
	for i, alloc := range result.Allocations {
		var union SlotMask
		var sum Currency
		for _, bid := range alloc.Bids {
			check.False(t, union.Overlaps(bid.Slots))
			union |= bid.Slots
			sum += bid.Price
		}
		check.Equal(t, union, alloc.Slots)
		check.Equal(t, sum, alloc.Price)

		if i > 0 {
			check.True(t, result.Allocations[i-1].Price >= alloc.Price)
		}

		fresh := false
		for _, bid := range alloc.Bids {
			if !seen[bid.ID] {
				fresh = true
			}
			seen[bid.ID] = true
		}
		check.True(t, fresh)
	}

	var seeds []Bid
	for _, value := range values {
		bids, err := a.Ledger.Query(context.Background(), a.Group, value, nil)
		assert.NoError(t, err)
		seeds = append(seeds, bids...)
	}

	// 25 (2-3) + 18 (4-5) = 43 beats 12 + 9 + 14 = 35 and the global 40
	check.Equal(t, Units(43), disjointSubsetMax(seeds))
	winner, _ := result.Winner()
	check.Equal(t, Units(43), winner.Price)
	check.Equal(t, SlotMask(0b011110), winner.Slots)
}

func TestDetermineWinners_Idempotent(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 4, LocalSlots: 2}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1 := localBidder(1, slots, Units(50))
	p2 := globalBidder(2, slots, Units(100))

	mustSubmitAt(t, a, p1, 0b0011, Units(10), 1*time.Second)
	mustSubmitAt(t, a, p1, 0b1100, Units(11), 2*time.Second)
	mustSubmitAt(t, a, p2, 0b1111, Units(21), 3*time.Second)

	first, err := a.Winners(context.Background())
	assert.NoError(t, err)
	second, err := a.Winners(context.Background())
	assert.NoError(t, err)
	check.Equal(t, first, second)
}

func TestResult_Profit(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1, p2, p3 := scenarioBidders(slots)

	mustSubmitAt(t, a, p1, 0b01, Units(10), 1*time.Second)
	mustSubmitAt(t, a, p2, 0b10, Units(15), 2*time.Second)
	mustSubmitAt(t, a, p3, 0b11, Units(20), 3*time.Second)

	result, err := a.Winners(context.Background())
	assert.NoError(t, err)

	check.Equal(t, Units(20), result.Profit(p1.ID, p1.Valuations))
	check.Equal(t, Units(25), result.Profit(p2.ID, p2.Valuations))
	check.Equal(t, Currency(0), result.Profit(p3.ID, p3.Valuations))
}

func TestAllocation_Spans(t *testing.T) {
	tests := []struct {
		name     string
		alloc    Allocation
		n        int
		expected []Span
	}{
		{
			name:     "gap on both sides",
			alloc:    Allocation{Bids: []Bid{{Player: 2, Slots: 0b0110, Price: Units(7)}}},
			n:        4,
			expected: []Span{{Width: 1}, {Width: 2, Player: 2, Price: Units(7)}, {Width: 1}},
		},
		{
			name: "unordered bids",
			alloc: Allocation{Bids: []Bid{
				{Player: 1, Slots: 0b1100, Price: Units(3)},
				{Player: 2, Slots: 0b0011, Price: Units(4)},
			}},
			n: 4,
			expected: []Span{
				{Width: 2, Player: 2, Price: Units(4)},
				{Width: 2, Player: 1, Price: Units(3)},
			},
		},
		{
			name:     "global",
			alloc:    Allocation{Bids: []Bid{{Player: 3, Slots: 0b111, Price: Units(9)}}},
			n:        3,
			expected: []Span{{Width: 3, Player: 3, Price: Units(9)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, tt.alloc.Spans(tt.n))
		})
	}
}

func TestResult_Table(t *testing.T) {
	result := &Result{Allocations: []Allocation{
		{Price: Units(5), Slots: 0b11, Bids: []Bid{{Player: 3, Slots: 0b11, Price: Units(5)}}},
		{Price: Units(4), Slots: 0b01, Bids: []Bid{{Player: 1, Slots: 0b01, Price: Units(4)}}},
	}}

	check.Equal(t, 1, len(result.Table(2, false)))

	table := result.Table(2, true)
	check.Equal(t, 2, len(table))
	check.Equal(t, []Span{{Width: 1, Player: 1, Price: Units(4)}, {Width: 1}}, table[1])
}
