package core

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestAuction_SnapshotStatic(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1, _, p3 := scenarioBidders(slots)

	mustSubmitAt(t, a, p1, 0b01, Units(10), 1*time.Second)
	mustSubmitAt(t, a, p3, 0b11, Units(20), 2*time.Second)

	snapshot, err := a.Snapshot(context.Background(), nil)
	assert.NoError(t, err)
	assert.NotNil(t, snapshot.Static)
	check.Equal(t, 0, len(snapshot.Allocations))
	check.Equal(t, SideGlobal, snapshot.Static.Winner)
	check.Equal(t, Units(10), snapshot.Static.Distance)
}

func TestAuction_SnapshotAllocations(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 4, LocalSlots: 2}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1 := localBidder(1, slots, Units(80))

	mustSubmitAt(t, a, p1, 0b0110, Units(10), 1*time.Second)

	snapshot, err := a.Snapshot(context.Background(), nil)
	assert.NoError(t, err)
	check.Nil(t, snapshot.Static)
	check.Equal(t, 1, len(snapshot.Allocations))
	check.Equal(t, [][]Span{{{Width: 1}, {Width: 2, Player: 1, Price: Units(10)}, {Width: 1}}}, snapshot.Table)
}

func TestAuction_Report(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1, p2, p3 := scenarioBidders(slots)

	mustSubmitAt(t, a, p1, 0b01, Units(10), 1*time.Second)
	mustSubmitAt(t, a, p2, 0b10, Units(15), 2*time.Second)
	mustSubmitAt(t, a, p3, 0b11, Units(20), 3*time.Second)
	_, err := a.SubmitAt(context.Background(), p3, 0b11, Units(19), 4*time.Second)
	check.Error(t, err)

	report, err := a.Report(context.Background(), []Bidder{p1, p2, p3})
	assert.NoError(t, err)
	check.Equal(t, GroupID(1), report.Group)
	check.Equal(t, 3, report.BidCount)
	check.True(t, report.HasWinner)
	check.Equal(t, 2, len(report.Table))
	check.Equal(t, map[PlayerID]Currency{1: Units(20), 2: Units(25), 3: 0}, report.Profits)
}

func TestAuction_SubmitBeforeStart(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	clock := NewClock(TreatmentHard, testDurations, 0).WithNow(newFakeTime().Now)
	a := NewAuction(slots, 1, clock, NewMemoryLedger())

	_, err := a.Submit(context.Background(), globalBidder(1, slots, Units(100)), 0b11, Units(1))
	check.Equal(t, ReasonAuctionExpired, rejectionReason(t, err))
}
