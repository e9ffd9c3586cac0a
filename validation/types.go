package validation

import "fmt"

// BaseValidationResult contains the checks common to every attestation
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

func (r *BaseValidationResult) detail(format string, args ...any) {
	if len(args) == 0 {
		r.ValidationDetails = append(r.ValidationDetails, format)
		return
	}
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// ResultValidationResult contains validation results specific to result attestations
type ResultValidationResult struct {
	BaseValidationResult
	RoundHashValid    bool
	BidHashValid      bool
	ValuationsValid   bool
	WinningPriceValid bool
	WinnerValid       bool
}

// IsValid returns true if all result validation checks passed
func (r *ResultValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.RoundHashValid && r.BidHashValid && r.ValuationsValid &&
		r.WinningPriceValid && r.WinnerValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // slotauction commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
