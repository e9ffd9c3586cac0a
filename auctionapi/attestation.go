package auctionapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/cloudx-io/slotauction/core"
)

// AttestationCOSE holds the raw COSE_Sign1 bytes returned by the Nitro Security Module.
type AttestationCOSE []byte

// AttestationCOSEBase64 is the standard base64 form used in JSON responses.
type AttestationCOSEBase64 string

// AttestationCOSEGzip is the gzip compressed, URL-safe unpadded base64 form used for
// attestations stored next to exports.
type AttestationCOSEGzip string

func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

// CompressGzip compresses the attestation and encodes it URL-safe.
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(a); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (a AttestationCOSEBase64) String() string {
	return string(a)
}

// Decode returns the raw COSE bytes.
func (a AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(data), nil
}

func (a AttestationCOSEGzip) String() string {
	return string(a)
}

// Decompress returns the raw COSE bytes.
func (a AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}

	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read gzip data: %w", err)
	}
	return AttestationCOSE(data), nil
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded Nitro attestation document without user data.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`

	// Certificate is the base64 DER signing certificate
	Certificate string `json:"certificate"`

	// CABundle holds base64 DER intermediates, root first
	CABundle []string `json:"cabundle"`

	PublicKey string `json:"public_key"`
	Nonce     string `json:"nonce"`
}

// AttestedBid is a winning bid as committed to in a result attestation.
// The player is left out so the document does not reveal bidder identity.
type AttestedBid struct {
	ID          string        `json:"id"`
	Slots       core.SlotMask `json:"slots"`
	Price       core.Currency `json:"price"`
	TimestampMs int64         `json:"timestamp_ms"`
}

// ResultAttestationUserData is embedded in the attestation of a group's final result.
type ResultAttestationUserData struct {
	SessionCode string         `json:"session_code"`
	Round       int            `json:"round"`
	Group       core.GroupID   `json:"group"`
	Treatment   core.Treatment `json:"treatment"`

	// CutoffMs is the candle cutoff, absent when every admitted bid counts
	CutoffMs *int64 `json:"cutoff_ms,omitempty"`

	RoundHash    string   `json:"round_hash"`
	RoundNonce   string   `json:"round_nonce"`
	BidHashes    []string `json:"bid_hashes"`
	BidHashNonce string   `json:"bid_hash_nonce"`

	// ValuationHashes commit to each bidder's private valuations using the bid hash nonce
	ValuationHashes []string `json:"valuation_hashes,omitempty"`

	Winner       []AttestedBid `json:"winner,omitempty"`
	WinningPrice core.Currency `json:"winning_price"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ResultAttestationDoc is a parsed result attestation.
type ResultAttestationDoc struct {
	AttestationDoc
	UserData *ResultAttestationUserData `json:"user_data"`
}
