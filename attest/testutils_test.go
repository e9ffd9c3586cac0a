package attest

import (
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
)

// mockEnclaveHandle implements the Attest method for testing
type mockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
	calls      int
}

func (m *mockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	m.calls++
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// newMockEnclave returns a handle producing an unsigned Nitro style document around the
// requested user data.
func newMockEnclave() *mockEnclaveHandle {
	return &mockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			doc, err := cbor.Marshal(map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1714564800000),
				"pcrs": map[uint64][]byte{
					0: {0x3b, 0x4c, 0xef},
					1: {0x4b, 0x4d},
					2: {0x2b, 0xdd},
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte{},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			})
			if err != nil {
				return nil, err
			}

			// [protected header, unprotected header, payload, signature]
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				doc,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}
