package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func rejectionReason(t *testing.T, err error) RejectReason {
	t.Helper()
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected *SubmissionError, got %v", err)
	}
	return subErr.Reason
}

func TestValidate_CheckOrder(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}

	tests := []struct {
		name      string
		slots     SlotMask
		price     Currency
		timestamp time.Duration
		expected  RejectReason
	}{
		{"zero mask", 0b00, Units(10), time.Second, ReasonMalformedSlots},
		{"mask wider than any layout", SlotMask(1) << MaxGlobalSlots, Units(10), time.Second, ReasonMalformedSlots},
		{"malformed beats price", 0b00, 0, 0, ReasonMalformedSlots},
		{"zero price", 0b11, 0, time.Second, ReasonNonPositivePrice},
		{"negative price", 0b11, -100, time.Second, ReasonNonPositivePrice},
		{"price beats expiry", 0b11, 0, time.Hour, ReasonNonPositivePrice},
		{"timestamp zero", 0b11, Units(10), 0, ReasonAuctionExpired},
		{"timestamp after deadline", 0b11, Units(10), 61 * time.Second, ReasonAuctionExpired},
		{"expiry beats combination", 0b101, Units(10), 61 * time.Second, ReasonAuctionExpired},
		{"combination outside layout", 0b101, Units(10), time.Second, ReasonInvalidSlotCombination},
		{"combination beats valuation", 0b100, Units(1000), time.Second, ReasonInvalidSlotCombination},
		{"above valuation", 0b11, Units(101), time.Second, ReasonPriceExceedsValuation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAuction(t, slots, TreatmentHard, 0)
			bidder := globalBidder(1, slots, Units(100))

			_, err := a.SubmitAt(context.Background(), bidder, tt.slots, tt.price, tt.timestamp)
			check.Equal(t, tt.expected, rejectionReason(t, err))

			count, err := a.Ledger.Count(context.Background(), a.Group)
			assert.NoError(t, err)
			check.Equal(t, 0, count)
		})
	}
}

func TestValidate_BoundaryTimestampAccepted(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)

	mustSubmitAt(t, a, globalBidder(1, slots, Units(100)), 0b11, Units(10), 60*time.Second)
}

func TestValidate_ValuationCeilingCarried(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)

	bidder := Bidder{ID: 2, Role: RoleLocal, Valuations: LocalValuations(2, 1, []Currency{Units(30), Units(50)})}

	// Local bidders do not value the global bundle
	_, err := a.SubmitAt(context.Background(), bidder, 0b11, Units(1), time.Second)
	var subErr *SubmissionError
	assert.True(t, errors.As(err, &subErr))
	check.Equal(t, ReasonPriceExceedsValuation, subErr.Reason)
	check.Equal(t, Currency(0), subErr.Amount)

	_, err = a.SubmitAt(context.Background(), bidder, 0b10, Units(51), time.Second)
	assert.True(t, errors.As(err, &subErr))
	check.Equal(t, Units(50), subErr.Amount)
	check.Equal(t, "Price exceeds available funds of 50.00", subErr.Error())

	mustSubmitAt(t, a, bidder, 0b10, Units(50), time.Second)
}

func TestValidate_MonotonicRejection(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 4, LocalSlots: 2}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	p1 := localBidder(1, slots, Units(100))
	p2 := localBidder(2, slots, Units(100))

	// Bids on other masks must not matter
	mustSubmitAt(t, a, p1, 0b0011, Units(40), 1*time.Second)
	mustSubmitAt(t, a, p2, 0b1100, Units(45), 2*time.Second)
	mustSubmitAt(t, a, p1, 0b0110, Units(20), 3*time.Second)

	for _, price := range []Currency{Units(19), Units(20)} {
		_, err := a.SubmitAt(context.Background(), p2, 0b0110, price, 4*time.Second)
		var subErr *SubmissionError
		assert.True(t, errors.As(err, &subErr))
		check.Equal(t, ReasonPriceBelowCurrentBest, subErr.Reason)
		check.Equal(t, Units(20), subErr.Amount)
	}

	mustSubmitAt(t, a, p2, 0b0110, Units(20)+1, 5*time.Second)
}

func TestValidate_AcceptedPricesStrictlyIncrease(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	bidders := []Bidder{localBidder(1, slots, Units(80)), localBidder(2, slots, Units(80))}

	prices := []Currency{Units(5), Units(3), Units(7), Units(7), Units(6), Units(12), Units(90), Units(13)}
	for i, price := range prices {
		_, _ = a.SubmitAt(context.Background(), bidders[i%2], 0b01, price, time.Duration(i+1)*time.Second)
	}

	bids, err := a.Ledger.Query(context.Background(), a.Group, 0b01, nil)
	assert.NoError(t, err)
	check.Equal(t, 4, len(bids))
	for i := 1; i < len(bids); i++ {
		check.True(t, bids[i].Price > bids[i-1].Price)
	}
}

func TestValidate_MalformedVersusInvalidCombination(t *testing.T) {
	slots := SlotConfig{GlobalSlots: 2, LocalSlots: 1}
	a, _ := newTestAuction(t, slots, TreatmentHard, 0)
	bidder := globalBidder(1, slots, Units(100))

	mustSubmitAt(t, a, bidder, 0b11, Units(10), time.Second)

	_, err := a.SubmitAt(context.Background(), bidder, 0b00, Units(20), time.Second)
	check.Equal(t, ReasonMalformedSlots, rejectionReason(t, err))

	_, err = a.SubmitAt(context.Background(), bidder, 0b101, Units(20), time.Second)
	check.Equal(t, ReasonInvalidSlotCombination, rejectionReason(t, err))
}
