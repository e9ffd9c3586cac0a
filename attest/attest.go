// Package attest commits to the final result of a group and has it signed by the Nitro
// Security Module.
package attest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/slotauction/auctionapi"
	"github.com/cloudx-io/slotauction/core"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// GetEnclaveAttester returns the NSM attester, or an error outside of an enclave.
func GetEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// Round identifies the group auction being attested.
type Round struct {
	SessionCode string
	Round       int
	Group       core.GroupID
	Treatment   core.Treatment
	Slots       core.SlotConfig

	// Cutoff is the candle cutoff, nil when every admitted bid counts
	Cutoff *time.Duration

	// Bidders have their valuations committed next to the bids
	Bidders []core.Bidder
}

// GenerateResultProof determines the canonical result of a closed group and returns
// its attestation together with the committed user data.
// Every admitted bid is hashed, including bids placed after a candle cutoff.
func GenerateResultProof(ctx context.Context, attester EnclaveAttester, ledger core.Ledger, round Round) (auctionapi.AttestationCOSE, *auctionapi.ResultAttestationUserData, error) {
	if attester == nil {
		return nil, nil, fmt.Errorf("enclave attester is nil")
	}

	bids, err := core.GroupBids(ctx, ledger, round.Group, round.Slots, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load bids: %w", err)
	}

	result, err := core.DetermineWinners(ctx, ledger, round.Group, round.Slots, round.Cutoff)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to determine winners: %w", err)
	}

	bidHashNonce, err := generateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate bid hash nonce: %w", err)
	}
	roundNonce, err := generateNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate round nonce: %w", err)
	}

	bidHashes := make([]string, 0, len(bids))
	for _, bid := range bids {
		bidHashes = append(bidHashes, core.ComputeBidHash(bid, bidHashNonce))
	}
	var valuationHashes []string
	for _, bidder := range round.Bidders {
		valuationHashes = append(valuationHashes, core.ComputeValuationsHash(bidder.Valuations, bidHashNonce))
	}

	userData := &auctionapi.ResultAttestationUserData{
		SessionCode:  round.SessionCode,
		Round:        round.Round,
		Group:        round.Group,
		Treatment:    round.Treatment,
		RoundHash:    core.ComputeRoundHash(round.SessionCode, round.Round, round.Group, round.Treatment, roundNonce),
		RoundNonce:   roundNonce,
		BidHashes:    bidHashes,
		BidHashNonce: bidHashNonce,

		ValuationHashes: valuationHashes,
		Timestamp:       time.Now().UTC(),
	}
	if round.Cutoff != nil {
		ms := round.Cutoff.Milliseconds()
		userData.CutoffMs = &ms
	}
	if winner, ok := result.Winner(); ok {
		userData.WinningPrice = winner.Price
		userData.Winner = stripPlayers(winner.Bids)
	}

	attestation, err := attestUserData(attester, userData)
	if err != nil {
		return nil, nil, err
	}
	return attestation, userData, nil
}

// stripPlayers drops bidder identity from the winning bids.
func stripPlayers(bids []core.Bid) []auctionapi.AttestedBid {
	attested := make([]auctionapi.AttestedBid, len(bids))
	for i, bid := range bids {
		attested[i] = auctionapi.AttestedBid{
			ID:          bid.ID,
			Slots:       bid.Slots,
			Price:       bid.Price,
			TimestampMs: bid.Timestamp.Milliseconds(),
		}
	}
	return attested
}

func attestUserData(attester EnclaveAttester, userData *auctionapi.ResultAttestationUserData) (auctionapi.AttestationCOSE, error) {
	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		logrus.WithError(err).WithField("group", userData.Group).Error("NSM attestation failed")
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}

	logrus.WithField("group", userData.Group).Infof("Result attestation generated: %d bytes", len(attestationCBOR))

	return auctionapi.AttestationCOSE(attestationCBOR), nil
}

// generateSecureRandomBytes reads from crypto/rand, which inside an enclave is fed by the
// NSM-seeded kernel entropy pool.
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
