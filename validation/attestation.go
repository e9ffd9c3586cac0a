package validation

import (
	"crypto/x509"

	"github.com/cloudx-io/slotauction/auctionapi"
)

// validateCommonAttestation checks the PCRs, the certificate chain and the COSE signature
// of a parsed attestation.
func validateCommonAttestation(coseBytes auctionapi.AttestationCOSE, doc auctionapi.AttestationDoc, knownPCRs []PCRSet, roots *x509.CertPool) BaseValidationResult {
	result := BaseValidationResult{
		ValidationDetails: []string{},
	}

	pcrMatch, matchedSet := ValidatePCRs(doc.PCRs, knownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.detail("PCR0: %s (no match)", doc.PCRs.ImageFileHash)
		result.detail("PCR1: %s (no match)", doc.PCRs.KernelHash)
		result.detail("PCR2: %s (no match)", doc.PCRs.ApplicationHash)
	} else {
		result.detail("PCR measurements valid")
		result.detail("Matched PCR set: #%d (commit: %s)", matchedSet, knownPCRs[matchedSet].CommitHash)
	}

	switch {
	case doc.Certificate == "":
		result.detail("Missing certificate")
	case len(doc.CABundle) == 0:
		result.detail("Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp, roots); err != nil {
			result.detail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(coseBytes, doc.Certificate); err != nil {
		result.detail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.detail("COSE signature verified")
	}

	return result
}
