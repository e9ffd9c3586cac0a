package validation

import (
	"crypto/x509"
	"fmt"
	"slices"
	"time"

	"github.com/cloudx-io/slotauction/auctionapi"
	"github.com/cloudx-io/slotauction/core"
)

// ResultValidationInput contains all inputs needed to validate a group's result attestation
type ResultValidationInput struct {
	Attestation auctionapi.AttestationCOSEBase64
	KnownPCRs   []PCRSet
	Roots       *x509.CertPool // nil = AWS Nitro root

	// The group auction the bidder took part in
	SessionCode string
	Round       int
	Group       core.GroupID
	Treatment   core.Treatment

	Bid          *core.Bid       // nil = bidder placed no bid
	Valuations   core.Valuations // nil = skip the valuations commitment
	WinningPrice *core.Currency  // nil = no winner expected
	IsWinner     bool            // Bid is part of the winning allocation
}

// ValidateResultAttestation validates the attestation of a group's final result and verifies:
// - The attestation covers the expected round and group
// - The bid was included in the auction
// - The bidder's valuations were the ones used
// - The winning price matches
// - Winner determination matches the bidder's expectation
//
// Returns:
//   - ResultValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (malformed attestation)
func ValidateResultAttestation(input *ResultValidationInput) (*ResultValidationResult, error) {
	coseBytes, err := input.Attestation.Decode()
	if err != nil {
		return nil, err
	}

	doc, err := coseBytes.ParseResultAttestation()
	if err != nil {
		return nil, fmt.Errorf("failed to parse result attestation: %w", err)
	}

	result := &ResultValidationResult{
		BaseValidationResult: validateCommonAttestation(coseBytes, doc.AttestationDoc, input.KnownPCRs, input.Roots),
	}

	if doc.UserData == nil {
		result.detail("Attestation user data missing")
		return result, nil
	}
	userData := doc.UserData

	result.RoundHashValid = validateRoundHash(input, userData, result)
	result.BidHashValid = validateBidHash(input, userData, result)
	result.ValuationsValid = validateValuations(input, userData, result)
	result.WinningPriceValid = validateWinningPrice(input, userData, result)
	result.WinnerValid = validateWinner(input, userData, result)

	return result, nil
}

func validateRoundHash(input *ResultValidationInput, userData *auctionapi.ResultAttestationUserData, result *ResultValidationResult) bool {
	if userData.RoundNonce == "" {
		result.detail("Round nonce missing from attestation")
		return false
	}

	computed := core.ComputeRoundHash(input.SessionCode, input.Round, input.Group, input.Treatment, userData.RoundNonce)
	if computed != userData.RoundHash {
		result.detail("Round hash mismatch: computed %s, attestation has %s", computed, userData.RoundHash)
		return false
	}
	result.detail("Round hash validation passed: session %s, round %d, group %d", input.SessionCode, input.Round, input.Group)
	return true
}

func validateBidHash(input *ResultValidationInput, userData *auctionapi.ResultAttestationUserData, result *ResultValidationResult) bool {
	if input.Bid == nil {
		result.detail("No bid to look up")
		return true
	}
	if userData.BidHashNonce == "" {
		result.detail("Bid hash nonce missing from attestation")
		return false
	}

	computed := core.ComputeBidHash(*input.Bid, userData.BidHashNonce)
	if slices.Contains(userData.BidHashes, computed) {
		result.detail("Bid hash found in attestation: %s", computed)
		return true
	}

	result.detail("Bid hash NOT found in attestation. Computed: %s", computed)
	result.detail("Total hashes in attestation: %d", len(userData.BidHashes))
	return false
}

func validateValuations(input *ResultValidationInput, userData *auctionapi.ResultAttestationUserData, result *ResultValidationResult) bool {
	if input.Valuations == nil {
		result.detail("No valuations to look up")
		return true
	}

	computed := core.ComputeValuationsHash(input.Valuations, userData.BidHashNonce)
	if slices.Contains(userData.ValuationHashes, computed) {
		result.detail("Valuations hash found in attestation: %s", computed)
		return true
	}
	result.detail("Valuations hash NOT found in attestation. Computed: %s", computed)
	return false
}

func validateWinningPrice(input *ResultValidationInput, userData *auctionapi.ResultAttestationUserData, result *ResultValidationResult) bool {
	hasWinner := len(userData.Winner) > 0

	if input.WinningPrice == nil {
		if !hasWinner {
			result.detail("Winning price validation passed: no winner expected and no winner in attestation")
			return true
		}
		result.detail("Winning price mismatch: expected no winner, but attestation has winner with price %s", userData.WinningPrice)
		return false
	}

	if !hasWinner {
		result.detail("Winning price mismatch: expected winner with price %s, but attestation has no winner", *input.WinningPrice)
		return false
	}

	if *input.WinningPrice != userData.WinningPrice {
		result.detail("Winning price mismatch: expected %s, attestation has %s", *input.WinningPrice, userData.WinningPrice)
		return false
	}
	result.detail("Winning price validation passed: %s", userData.WinningPrice)
	return true
}

// validateWinner checks that the attested allocation is consistent and committed, and
// that the bidder's expectation of winning matches it.
func validateWinner(input *ResultValidationInput, userData *auctionapi.ResultAttestationUserData, result *ResultValidationResult) bool {
	var (
		total core.Currency
		used  core.SlotMask
		won   bool
	)
	for _, attested := range userData.Winner {
		if used.Overlaps(attested.Slots) {
			result.detail("Winner validation failed: winning bids overlap on slots %s", attested.Slots.Label())
			return false
		}
		used |= attested.Slots
		total += attested.Price

		if userData.CutoffMs != nil && attested.TimestampMs > *userData.CutoffMs {
			result.detail("Winner validation failed: bid %s placed after the cutoff", attested.ID)
			return false
		}

		bid := core.Bid{
			ID:        attested.ID,
			Slots:     attested.Slots,
			Price:     attested.Price,
			Timestamp: time.Duration(attested.TimestampMs) * time.Millisecond,
		}
		if !slices.Contains(userData.BidHashes, core.ComputeBidHash(bid, userData.BidHashNonce)) {
			result.detail("Winner validation failed: winning bid %s is not committed", attested.ID)
			return false
		}

		if input.Bid != nil && attested.ID == input.Bid.ID {
			won = true
		}
	}

	if total != userData.WinningPrice {
		result.detail("Winner validation failed: winning bids sum to %s, attestation has %s", total, userData.WinningPrice)
		return false
	}

	if input.IsWinner == won {
		if won {
			result.detail("Winner validation passed: bid won as expected")
		} else {
			result.detail("Winner validation passed: bid lost as expected")
		}
		return true
	}

	if input.IsWinner {
		result.detail("Winner validation failed: expected to win, but did not win")
	} else {
		result.detail("Winner validation failed: expected to lose, but won")
	}
	return false
}
