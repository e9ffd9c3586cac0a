package core

import (
	"context"
	"fmt"
	"time"
)

// Auction binds the slot layout, clock and ledger of one bidding group.
//
// Submissions must be serialized per group by the caller; result queries are read-only
// and may run concurrently with each other.
type Auction struct {
	Slots  SlotConfig
	Group  GroupID
	Clock  *Clock
	Ledger Ledger
}

// NewAuction creates the auction of a group.
func NewAuction(slots SlotConfig, group GroupID, clock *Clock, ledger Ledger) *Auction {
	return &Auction{
		Slots:  slots,
		Group:  group,
		Clock:  clock,
		Ledger: ledger,
	}
}

// Submit stamps the bid with the current elapsed time and submits it.
func (a *Auction) Submit(ctx context.Context, bidder Bidder, slots SlotMask, price Currency) (Bid, error) {
	return a.SubmitAt(ctx, bidder, slots, price, a.Clock.Elapsed())
}

// SubmitAt validates the bid and, on success, appends it to the ledger.
// Under the activity rule an accepted bid also restarts the deadline.
func (a *Auction) SubmitAt(ctx context.Context, bidder Bidder, slots SlotMask, price Currency, timestamp time.Duration) (Bid, error) {
	validator := Validator{Slots: a.Slots, Group: a.Group, Clock: a.Clock, Ledger: a.Ledger}
	if err := validator.Validate(ctx, bidder, slots, price, timestamp); err != nil {
		return Bid{}, err
	}

	bid, err := a.Ledger.Append(ctx, Bid{
		Group:     a.Group,
		Player:    bidder.ID,
		Slots:     slots,
		Price:     price,
		Timestamp: timestamp,
	})
	if err != nil {
		return Bid{}, fmt.Errorf("append bid: %w", err)
	}

	if a.Clock.Treatment().ResetsOnBid() {
		a.Clock.Reset()
	}

	return bid, nil
}

// Winners returns the live result over all admitted bids.
func (a *Auction) Winners(ctx context.Context) (*Result, error) {
	return DetermineWinners(ctx, a.Ledger, a.Group, a.Slots, nil)
}

// FinalResult returns the canonical result using the treatment's cutoff.
func (a *Auction) FinalResult(ctx context.Context) (*Result, error) {
	return DetermineWinners(ctx, a.Ledger, a.Group, a.Slots, a.Clock.Cutoff())
}

// Snapshot is the winner state shown to bidders: the static comparison for one-slot
// layouts, the ranked allocations otherwise.
type Snapshot struct {
	Static      *StaticResult `json:"static,omitempty"`
	Allocations []Allocation  `json:"allocations,omitempty"`
	Table       [][]Span      `json:"table,omitempty"`
}

// Snapshot computes the bidder facing view as of cutoff.
func (a *Auction) Snapshot(ctx context.Context, cutoff *time.Duration) (*Snapshot, error) {
	if a.Slots.Static() {
		static, err := DetermineStatic(ctx, a.Ledger, a.Group, a.Slots, cutoff)
		if err != nil {
			return nil, err
		}
		return &Snapshot{Static: static}, nil
	}

	result, err := DetermineWinners(ctx, a.Ledger, a.Group, a.Slots, cutoff)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Allocations: result.Allocations,
		Table:       result.Table(a.Slots.GlobalSlots, true),
	}, nil
}

// GroupReport summarizes the final outcome of a group for operators.
type GroupReport struct {
	Group     GroupID               `json:"group"`
	BidCount  int                   `json:"bid_count"`
	HasWinner bool                  `json:"has_winner"`
	Table     [][]Span              `json:"table"`
	Profits   map[PlayerID]Currency `json:"profits"`
}

// Report builds the final report of the group for the given bidders.
func (a *Auction) Report(ctx context.Context, bidders []Bidder) (*GroupReport, error) {
	count, err := a.Ledger.Count(ctx, a.Group)
	if err != nil {
		return nil, fmt.Errorf("count bids: %w", err)
	}

	result, err := a.FinalResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("final result: %w", err)
	}

	profits := make(map[PlayerID]Currency, len(bidders))
	for _, b := range bidders {
		profits[b.ID] = result.Profit(b.ID, b.Valuations)
	}

	return &GroupReport{
		Group:     a.Group,
		BidCount:  count,
		HasWinner: result.HasWinner(),
		Table:     result.Table(a.Slots.GlobalSlots, true),
		Profits:   profits,
	}, nil
}
