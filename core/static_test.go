package core

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestDetermineStatic_RequiresSingleSlotLocals(t *testing.T) {
	_, err := DetermineStatic(context.Background(), NewMemoryLedger(), 1, SlotConfig{GlobalSlots: 4, LocalSlots: 2}, nil)
	check.Error(t, err)
}

func TestDetermineStatic_Distance(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 3, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	local := localBidder(1, slots, Units(80))
	global := globalBidder(2, slots, Units(100))

	static, err := DetermineStatic(context.Background(), a.Ledger, a.Group, slots, nil)
	assert.NoError(t, err)
	check.Equal(t, SideNone, static.Winner)
	_, ok := static.Allocation()
	check.False(t, ok)

	mustSubmitAt(t, a, local, 0b001, Units(10), 1*time.Second)
	mustSubmitAt(t, a, local, 0b100, Units(12), 2*time.Second)
	mustSubmitAt(t, a, global, 0b111, Units(30), 3*time.Second)

	static, err = DetermineStatic(context.Background(), a.Ledger, a.Group, slots, nil)
	assert.NoError(t, err)
	check.Equal(t, SideGlobal, static.Winner)
	check.Equal(t, Units(8), static.Distance)
	check.Equal(t, 3, len(static.Highest))

	mustSubmitAt(t, a, local, 0b010, Units(10), 4*time.Second)

	static, err = DetermineStatic(context.Background(), a.Ledger, a.Group, slots, nil)
	assert.NoError(t, err)
	check.Equal(t, SideLocal, static.Winner)
	check.Equal(t, Units(2), static.Distance)

	alloc, ok := static.Allocation()
	assert.True(t, ok)
	check.Equal(t, Units(32), alloc.Price)
	check.Equal(t, SlotMask(0b111), alloc.Slots)
}

func TestDetermineStatic_AgreesWithDetermineWinners(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 3, LocalSlots: 1}
	masks := ValidValues(slots.GlobalSlots, slots.LocalSlots)

	for seed := uint64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))
		a, _ := newTestAuction(t, slots, TreatmentHard, 0)
		bidders := []Bidder{
			globalBidder(1, slots, Units(100)),
			localBidder(2, slots, Units(80)),
			localBidder(3, slots, Units(80)),
		}

		for i := 0; i < 12; i++ {
			mask := masks[rng.IntN(len(masks))]
			bidder := bidders[1+rng.IntN(2)]
			if mask == GlobalValue(slots.GlobalSlots) {
				bidder = bidders[0]
			}
			price := Currency(1 + rng.IntN(6000))
			ts := time.Duration(1+rng.IntN(59)) * time.Second

			// Rejections are expected and ignored
			_, _ = a.SubmitAt(context.Background(), bidder, mask, price, ts)
		}

		static, err := DetermineStatic(context.Background(), a.Ledger, a.Group, slots, nil)
		assert.NoError(t, err)
		result, err := DetermineWinners(context.Background(), a.Ledger, a.Group, slots, nil)
		assert.NoError(t, err)

		staticAlloc, staticOK := static.Allocation()
		winner, winnerOK := result.Winner()
		check.Equal(t, winnerOK, staticOK)
		check.Equal(t, winner.Price, staticAlloc.Price)
		check.Equal(t, winner.Slots, staticAlloc.Slots)
	}
}
