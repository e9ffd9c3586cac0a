package core

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestMemoryLedger_QueryOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	// Inserted out of timestamp order on purpose
	for _, b := range []Bid{
		{ID: "c", Group: 1, Player: 1, Slots: 0b01, Price: Units(3), Timestamp: 3 * time.Second},
		{ID: "a", Group: 1, Player: 2, Slots: 0b01, Price: Units(1), Timestamp: 1 * time.Second},
		{ID: "b", Group: 1, Player: 1, Slots: 0b01, Price: Units(2), Timestamp: 2 * time.Second},
		{ID: "x", Group: 2, Player: 1, Slots: 0b01, Price: Units(9), Timestamp: 1 * time.Second},
		{ID: "y", Group: 1, Player: 1, Slots: 0b10, Price: Units(9), Timestamp: 1 * time.Second},
	} {
		_, err := ledger.Append(ctx, b)
		assert.NoError(t, err)
	}

	bids, err := ledger.Query(ctx, 1, 0b01, nil)
	assert.NoError(t, err)
	check.Equal(t, 3, len(bids))
	check.Equal(t, "a", bids[0].ID)
	check.Equal(t, "b", bids[1].ID)
	check.Equal(t, "c", bids[2].ID)

	bids, err = ledger.Query(ctx, 1, 0b01, At(2*time.Second))
	assert.NoError(t, err)
	check.Equal(t, 2, len(bids))

	count, err := ledger.Count(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, 4, count)
}

func TestMemoryLedger_AppendAssignsID(t *testing.T) {
	ledger := NewMemoryLedger()

	bid, err := ledger.Append(context.Background(), Bid{Group: 1, Player: 1, Slots: 0b11, Price: Units(1)})
	assert.NoError(t, err)
	check.NotEqual(t, "", bid.ID)
}

func TestMemoryLedger_ForPlayer(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	for _, b := range []Bid{
		{Group: 1, Player: 2, Slots: 0b10, Price: Units(4), Timestamp: 4 * time.Second},
		{Group: 1, Player: 1, Slots: 0b01, Price: Units(1), Timestamp: 1 * time.Second},
		{Group: 1, Player: 2, Slots: 0b01, Price: Units(2), Timestamp: 2 * time.Second},
	} {
		_, err := ledger.Append(ctx, b)
		assert.NoError(t, err)
	}

	bids, err := ledger.ForPlayer(ctx, 1, 2)
	assert.NoError(t, err)
	check.Equal(t, 2, len(bids))
	check.Equal(t, 2*time.Second, bids[0].Timestamp)
	check.Equal(t, 4*time.Second, bids[1].Timestamp)
}

func TestHighest(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	highest, err := Highest(ctx, ledger, 1, 0b01, nil)
	assert.NoError(t, err)
	check.Nil(t, highest)

	for _, b := range []Bid{
		{ID: "first", Group: 1, Slots: 0b01, Price: Units(5), Timestamp: 1 * time.Second},
		{ID: "tie", Group: 1, Slots: 0b01, Price: Units(5), Timestamp: 2 * time.Second},
		{ID: "late", Group: 1, Slots: 0b01, Price: Units(8), Timestamp: 5 * time.Second},
	} {
		_, err := ledger.Append(ctx, b)
		assert.NoError(t, err)
	}

	highest, err = Highest(ctx, ledger, 1, 0b01, nil)
	assert.NoError(t, err)
	check.Equal(t, "late", highest.ID)

	// Equal prices keep the earliest bid
	highest, err = Highest(ctx, ledger, 1, 0b01, At(4*time.Second))
	assert.NoError(t, err)
	check.Equal(t, "first", highest.ID)
}

func TestGroupBids(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1, p2, p3 := scenarioBidders(slots)

	mustSubmitAt(t, a, p3, 0b11, Units(20), 3*time.Second)
	mustSubmitAt(t, a, p1, 0b01, Units(10), 1*time.Second)
	mustSubmitAt(t, a, p2, 0b10, Units(15), 2*time.Second)

	bids, err := GroupBids(context.Background(), a.Ledger, a.Group, slots, nil)
	assert.NoError(t, err)
	check.Equal(t, 3, len(bids))
	check.Equal(t, PlayerID(1), bids[0].Player)
	check.Equal(t, PlayerID(3), bids[2].Player)

	bids, err = GroupBids(context.Background(), a.Ledger, a.Group, slots, At(2*time.Second))
	assert.NoError(t, err)
	check.Equal(t, 2, len(bids))
}
