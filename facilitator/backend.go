// Package facilitator implements the trust boundary of the x402 protocol:
// the service that decides whether a payment proof is valid and, separately,
// whether it has been settled on the underlying network.
package facilitator

import (
	"context"

	"github.com/x402kit/x402/types"
)

// Backend adjudicates payment proofs. Verify is idempotent and side-effect
// free with respect to funds; Settle performs the scheme's broadcast step
// and is at-most-once from the caller's perspective. Implementations return
// an error only for infrastructure faults; an invalid payment is a
// VerifyResult with IsValid=false, not an error.
type Backend interface {
	Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResult, error)
	Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResult, error)
}

// Supporter is implemented by backends that can enumerate the scheme/network
// pairs they accept.
type Supporter interface {
	Supported() *types.SupportedResponse
}
