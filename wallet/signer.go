// Package wallet abstracts the signing capability that produces payment
// evidence. Key generation and custody are external concerns: the signers
// here are placeholders for demos and tests, not real cryptography.
package wallet

import (
	"context"
	"encoding/base64"

	"github.com/x402kit/x402/types"
)

// Evidence is the scheme-specific material a signer produces for one set of
// payment requirements, already base64-encoded for the wire.
type Evidence struct {
	Transaction         string
	SenderAuthenticator string
}

// Signer supplies payment evidence for requirements advertised by a resource
// server. The client flow treats the output as opaque and checks only
// non-emptiness.
type Signer interface {
	// Address returns the payer address this signer signs for.
	Address() string

	// Sign produces evidence authorizing payment of the given requirements.
	Sign(ctx context.Context, req *types.PaymentRequirements) (*Evidence, error)
}

// PlaceholderSigner emits fixed-size placeholder blobs in place of a signed
// transaction so the flow can run end to end against demo facilitators. It
// holds no key material and moves no funds.
type PlaceholderSigner struct {
	address string
}

// NewPlaceholderSigner creates a signer claiming the given payer address.
func NewPlaceholderSigner(address string) *PlaceholderSigner {
	return &PlaceholderSigner{address: address}
}

// Address returns the configured payer address.
func (s *PlaceholderSigner) Address() string {
	return s.address
}

// Sign returns 64 zero bytes for both blobs, mirroring what a demo wallet
// produces before any real transaction construction exists.
func (s *PlaceholderSigner) Sign(_ context.Context, _ *types.PaymentRequirements) (*Evidence, error) {
	blob := base64.StdEncoding.EncodeToString(make([]byte, 64))
	return &Evidence{
		Transaction:         blob,
		SenderAuthenticator: blob,
	}, nil
}
