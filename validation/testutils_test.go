package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/slotauction/auctionapi"
)

var attestedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var testPCRs = []PCRSet{
	{PCR0: "3b4cef", PCR1: "4b4d", PCR2: "2bdd", CommitHash: "abc123"},
}

// testPKI is a root and a short-lived enclave certificate shaped like the Nitro chain.
type testPKI struct {
	roots   *x509.CertPool
	caDER   []byte
	leafDER []byte
	leafKey *ecdsa.PrivateKey
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-nitro-root"},
		NotBefore:             attestedAt.Add(-24 * time.Hour),
		NotAfter:              attestedAt.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	assert.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	assert.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    attestedAt.Add(-time.Minute),
		NotAfter:     attestedAt.Add(3 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	assert.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(caCert)
	return &testPKI{roots: roots, caDER: caDER, leafDER: leafDER, leafKey: leafKey}
}

// signingAttester produces signed Nitro style documents. signKey defaults to the leaf key.
type signingAttester struct {
	pki     *testPKI
	signKey *ecdsa.PrivateKey
}

func (a *signingAttester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	payload, err := cbor.Marshal(auctionapi.NitroAttestationDocument{
		ModuleID:  "test-enclave-12345",
		Digest:    "SHA384",
		Timestamp: uint64(attestedAt.UnixMilli()),
		PCRs: map[uint64][]byte{
			0: {0x3b, 0x4c, 0xef},
			1: {0x4b, 0x4d},
			2: {0x2b, 0xdd},
		},
		Certificate: a.pki.leafDER,
		CABundle:    [][]byte{a.pki.caDER},
		UserData:    options.UserData,
		Nonce:       options.Nonce,
	})
	if err != nil {
		return nil, err
	}

	key := a.signKey
	if key == nil {
		key = a.pki.leafKey
	}
	signer, err := cose.NewSigner(cose.AlgorithmES384, key)
	if err != nil {
		return nil, err
	}

	msg := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES384},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}
