package core

import (
	"context"
	"fmt"
	"time"
)

// RejectReason names why a bid submission was refused.
type RejectReason string

const (
	ReasonMalformedSlots         RejectReason = "malformed_slots"
	ReasonNonPositivePrice       RejectReason = "non_positive_price"
	ReasonAuctionExpired         RejectReason = "auction_expired"
	ReasonInvalidSlotCombination RejectReason = "invalid_slot_combination"
	ReasonPriceExceedsValuation  RejectReason = "price_exceeds_valuation"
	ReasonPriceBelowCurrentBest  RejectReason = "price_below_current_best"
)

// SubmissionError is a recoverable rejection of a single bid.
// Amount carries the valuation ceiling or the current best price where relevant.
type SubmissionError struct {
	Reason RejectReason
	Amount Currency
}

func (e *SubmissionError) Error() string {
	switch e.Reason {
	case ReasonMalformedSlots:
		return "Selected slots are malformed."
	case ReasonNonPositivePrice:
		return "Price needs to be larger than zero."
	case ReasonAuctionExpired:
		return "Auction has already ended."
	case ReasonInvalidSlotCombination:
		return "Selected slots are not a valid combination."
	case ReasonPriceExceedsValuation:
		return fmt.Sprintf("Price exceeds available funds of %s", e.Amount)
	case ReasonPriceBelowCurrentBest:
		return fmt.Sprintf("Price below current highest bid of %s", e.Amount)
	default:
		return string(e.Reason)
	}
}

func reject(reason RejectReason) *SubmissionError {
	return &SubmissionError{Reason: reason}
}

// Validator checks bids of one group before they are admitted to the ledger.
type Validator struct {
	Slots  SlotConfig
	Group  GroupID
	Clock  *Clock
	Ledger Ledger
}

// Validate runs all checks in order and returns the first failure as a *SubmissionError.
// Any other error comes from the ledger.
func (v *Validator) Validate(ctx context.Context, bidder Bidder, slots SlotMask, price Currency, timestamp time.Duration) error {
	n, l := v.Slots.GlobalSlots, v.Slots.LocalSlots

	// Masks wider than any configurable layout are malformed; masks that fit the field but
	// not this layout fail the combination check below.
	if slots == 0 || slots > GlobalValue(MaxGlobalSlots) {
		return reject(ReasonMalformedSlots)
	}

	if price <= 0 {
		return reject(ReasonNonPositivePrice)
	}

	if !v.Clock.IsValidTimestamp(timestamp) {
		return reject(ReasonAuctionExpired)
	}

	if !IsValidValue(slots, n, l) {
		return reject(ReasonInvalidSlotCombination)
	}

	if ceiling := bidder.Valuations.Valuation(slots); price > ceiling {
		return &SubmissionError{Reason: ReasonPriceExceedsValuation, Amount: ceiling}
	}

	highest, err := Highest(ctx, v.Ledger, v.Group, slots, nil)
	if err != nil {
		return err
	}
	if highest != nil && highest.Price >= price {
		return &SubmissionError{Reason: ReasonPriceBelowCurrentBest, Amount: highest.Price}
	}

	return nil
}
