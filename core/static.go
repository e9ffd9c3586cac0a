package core

import (
	"context"
	"fmt"
	"time"
)

// Side names the winning bidder class of a static result.
type Side string

const (
	SideNone   Side = "none"
	SideGlobal Side = "global"
	SideLocal  Side = "local"
)

// StaticResult compares the global bid against the sum of all single-slot bids.
type StaticResult struct {
	// Highest holds the highest bid per single slot followed by the highest global bid
	Highest []Bid `json:"highest"`

	// Winner is the side whose total is larger
	Winner Side `json:"winner"`

	// Distance is the absolute difference between both totals
	Distance Currency `json:"distance"`
}

// DetermineStatic is the reduced winner determination for layouts with one-slot local bids.
// It agrees with DetermineWinners for L == 1: equal totals go to the side that completed
// first, and to the local side if both completed at the same time.
func DetermineStatic(ctx context.Context, ledger Ledger, group GroupID, slots SlotConfig, cutoff *time.Duration) (*StaticResult, error) {
	if !slots.Static() {
		return nil, fmt.Errorf("static results require num_local_slots of 1, got %d", slots.LocalSlots)
	}

	n := slots.GlobalSlots
	result := &StaticResult{Highest: make([]Bid, 0, n+1), Winner: SideNone}

	var totalLocal Currency
	var localCompleted time.Duration
	for s := 0; s < n; s++ {
		bid, err := Highest(ctx, ledger, group, SlotMask(1)<<uint(s), cutoff)
		if err != nil {
			return nil, err
		}
		if bid == nil {
			continue
		}
		result.Highest = append(result.Highest, *bid)
		totalLocal += bid.Price
		if bid.Timestamp > localCompleted {
			localCompleted = bid.Timestamp
		}
	}
	numLocal := len(result.Highest)

	globalBid, err := Highest(ctx, ledger, group, GlobalValue(n), cutoff)
	if err != nil {
		return nil, err
	}

	var totalGlobal Currency
	if globalBid != nil {
		result.Highest = append(result.Highest, *globalBid)
		totalGlobal = globalBid.Price
	}

	distance := totalGlobal - totalLocal
	switch {
	case distance > 0:
		result.Winner = SideGlobal
	case distance < 0:
		result.Winner = SideLocal
	case globalBid != nil && numLocal > 0:
		if globalBid.Timestamp < localCompleted {
			result.Winner = SideGlobal
		} else {
			result.Winner = SideLocal
		}
	}

	if distance < 0 {
		distance = -distance
	}
	result.Distance = distance

	return result, nil
}

// Allocation converts the static outcome into the winning allocation of the general engine.
func (s *StaticResult) Allocation() (Allocation, bool) {
	var alloc Allocation
	for _, bid := range s.Highest {
		isGlobal := bid.Slots.SlotCount() > 1
		if (s.Winner == SideGlobal) == isGlobal && s.Winner != SideNone {
			alloc.Price += bid.Price
			alloc.Slots |= bid.Slots
			alloc.Bids = append(alloc.Bids, bid)
		}
	}
	return alloc, s.Winner != SideNone
}
