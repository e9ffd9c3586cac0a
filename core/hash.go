package core

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// ComputeBidHash computes the hash committing to one ledger bid.
// This is used by the attester (to generate hashes) and validation (to verify hashes).
//
// Formula: SHA256(bid_id + "|" + slots + "|" + price + "|" + timestamp_ms + "|" + nonce)
//
// The price is formatted with exactly two decimals and the timestamp in whole
// milliseconds so the hash does not depend on in-memory representation.
func ComputeBidHash(bid Bid, nonce string) string {
	data := fmt.Sprintf("%s|%d|%s|%d|%s", bid.ID, uint64(bid.Slots), bid.Price, bid.Timestamp.Milliseconds(), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeRoundHash computes the hash identifying a group's auction round.
//
// Formula: SHA256(session + "|" + round + "|" + group + "|" + treatment + "|" + nonce)
func ComputeRoundHash(session string, round int, group GroupID, treatment Treatment, nonce string) string {
	data := fmt.Sprintf("%s|%d|%d|%s|%s", session, round, group, treatment, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeValuationsHash commits to a bidder's private valuations.
//
// Formula: SHA256(nonce + "|" + sorted_pairs) where sorted_pairs is
// "mask1:value1|mask2:value2|..." sorted by mask.
func ComputeValuationsHash(valuations Valuations, nonce string) string {
	data := nonce

	masks := make([]SlotMask, 0, len(valuations))
	for mask := range valuations {
		masks = append(masks, mask)
	}
	sort.Slice(masks, func(i, j int) bool { return masks[i] < masks[j] })

	for _, mask := range masks {
		data += fmt.Sprintf("|%d:%s", uint64(mask), valuations[mask])
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
