package core

import (
	"context"
	"testing"
	"time"
)

// fakeTime is a manually advanced time source for clocks under test.
type fakeTime struct {
	now time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

var testDurations = Durations{
	Hard:      60 * time.Second,
	CandleMin: 45 * time.Second,
	CandleMax: 90 * time.Second,
	Activity:  30 * time.Second,
}

// newTestAuction returns a started auction of group 1 with an in-memory ledger.
func newTestAuction(t *testing.T, slots SlotConfig, treatment Treatment, candle time.Duration) (*Auction, *fakeTime) {
	t.Helper()
	if err := slots.Validate(); err != nil {
		t.Fatalf("invalid slot config: %v", err)
	}

	ft := newFakeTime()
	clock := NewClock(treatment, testDurations, candle).WithNow(ft.Now)
	clock.Start()

	return NewAuction(slots, 1, clock, NewMemoryLedger()), ft
}

// localBidder values every local choice and, for convenience, nothing else.
func localBidder(id PlayerID, slots SlotConfig, value Currency) Bidder {
	values := make([]Currency, len(LocalValues(slots.GlobalSlots, slots.LocalSlots)))
	for i := range values {
		values[i] = value
	}
	return Bidder{
		ID:         id,
		Role:       RoleLocal,
		Valuations: LocalValuations(slots.GlobalSlots, slots.LocalSlots, values),
	}
}

func globalBidder(id PlayerID, slots SlotConfig, value Currency) Bidder {
	return Bidder{
		ID:         id,
		Role:       RoleGlobal,
		Valuations: GlobalValuations(slots.GlobalSlots, value),
	}
}

// mustSubmitAt submits a bid and fails the test on rejection.
func mustSubmitAt(t *testing.T, a *Auction, bidder Bidder, slots SlotMask, price Currency, ts time.Duration) Bid {
	t.Helper()
	bid, err := a.SubmitAt(context.Background(), bidder, slots, price, ts)
	if err != nil {
		t.Fatalf("submit %s on %b at %s: %v", price, slots, ts, err)
	}
	return bid
}
