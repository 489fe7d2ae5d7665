package facilitator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402kit/x402/logger"
	"github.com/x402kit/x402/types"
)

// LocalBackend adjudicates payments without a chain connection. The
// structural checks are real; the network authorization and broadcast steps
// are simulated, with a synthetic transaction hash derived from the payload
// digest. Suitable for demos and tests, never for production settlement.
type LocalBackend struct {
	network     string
	payer       string
	settleDelay time.Duration
	log         logger.Logger

	mu       sync.Mutex
	verified map[common.Hash]struct{}
	settled  map[common.Hash]*types.SettleResult
}

// NewLocalBackend creates a local backend reporting the given network and
// payer address in its results.
func NewLocalBackend(network, payer string) *LocalBackend {
	return &LocalBackend{
		network:  network,
		payer:    payer,
		log:      logger.NoopLogger{},
		verified: make(map[common.Hash]struct{}),
		settled:  make(map[common.Hash]*types.SettleResult),
	}
}

// WithLogger sets the backend's logger and returns the backend.
func (b *LocalBackend) WithLogger(log logger.Logger) *LocalBackend {
	b.log = log
	return b
}

// WithSettleDelay makes Settle sleep for d before reporting, imitating a
// broadcast/confirmation round-trip.
func (b *LocalBackend) WithSettleDelay(d time.Duration) *LocalBackend {
	b.settleDelay = d
	return b
}

// Verify applies the adjudication policy: the payload's accepted terms must
// equal the submitted requirements, the amount must parse as a non-negative
// integer, and the scheme-specific evidence must be structurally well-formed.
// The chain authorization step is assumed to pass once those hold. Verify is
// idempotent: the same input yields the same verdict every time.
func (b *LocalBackend) Verify(_ context.Context, req *types.VerifyRequest) (*types.VerifyResult, error) {
	if !req.PaymentPayload.Accepted.Equal(&req.PaymentRequirements) {
		return &types.VerifyResult{IsValid: false, InvalidReason: types.ReasonRequirementsMismatch}, nil
	}
	if err := types.ValidateAmount(req.PaymentRequirements.Amount); err != nil {
		return &types.VerifyResult{IsValid: false, InvalidReason: types.ReasonInvalidAmount}, nil
	}
	if err := validateExactPayload(&req.PaymentPayload); err != nil {
		b.log.Debug("malformed payment payload", map[string]any{"error": err.Error()})
		return &types.VerifyResult{IsValid: false, InvalidReason: types.ReasonMalformedPayload}, nil
	}

	digest := payloadDigest(req)
	b.mu.Lock()
	b.verified[digest] = struct{}{}
	b.mu.Unlock()

	b.log.Info("payment verified", map[string]any{
		"network": req.PaymentRequirements.Network,
		"amount":  req.PaymentRequirements.Amount,
		"digest":  digest.Hex(),
	})

	return &types.VerifyResult{IsValid: true, Payer: b.payer}, nil
}

// Settle finalizes a previously verified payment. A payload that was never
// verified by this backend is refused, and a payload that was already
// settled gets its recorded first result back instead of a second
// broadcast. The digest over evidence and requirements is the idempotency
// key for both checks.
func (b *LocalBackend) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResult, error) {
	digest := payloadDigest(req)

	b.mu.Lock()
	if prev, ok := b.settled[digest]; ok {
		b.mu.Unlock()
		b.log.Warn("duplicate settle call", map[string]any{"digest": digest.Hex()})
		return prev, nil
	}
	if _, ok := b.verified[digest]; !ok {
		b.mu.Unlock()
		return nil, &types.X402Error{
			Code:    types.ErrUnverifiedPayload,
			Message: "payload was not verified before settlement",
		}
	}
	b.mu.Unlock()

	if b.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.settleDelay):
		}
	}

	result := &types.SettleResult{
		Success:     true,
		Transaction: hexutil.Encode(crypto.Keccak256(digest.Bytes())),
		Network:     b.network,
		Payer:       b.payer,
	}

	b.mu.Lock()
	b.settled[digest] = result
	b.mu.Unlock()

	b.log.Info("payment settled", map[string]any{
		"network":     result.Network,
		"transaction": result.Transaction,
	})

	return result, nil
}

// Supported lists the single scheme/network pair the local backend accepts.
func (b *LocalBackend) Supported() *types.SupportedResponse {
	return &types.SupportedResponse{
		Kinds: []types.SupportedItem{
			{X402Version: types.ProtocolVersion, Scheme: types.SchemeExact, Network: b.network},
		},
	}
}

// payloadDigest keys the verification and settlement ledgers: keccak256 over
// the evidence blobs and the canonical JSON of the requirements, so the same
// proof against different terms is a different payment.
func payloadDigest(req *types.VerifyRequest) common.Hash {
	reqJSON, _ := json.Marshal(req.PaymentRequirements)
	return common.BytesToHash(crypto.Keccak256(
		[]byte(req.PaymentPayload.Payload.Transaction),
		[]byte(req.PaymentPayload.Payload.SenderAuthenticator),
		reqJSON,
	))
}

// validateExactPayload checks the scheme-specific evidence for the "exact"
// scheme: version, scheme match, and non-empty base64 blobs.
func validateExactPayload(p *types.PaymentPayload) error {
	if p.X402Version != types.ProtocolVersion {
		return fmt.Errorf("unsupported x402 version %d", p.X402Version)
	}
	if p.Accepted.Scheme != types.SchemeExact {
		return fmt.Errorf("unsupported scheme %q", p.Accepted.Scheme)
	}
	if p.Payload.Transaction == "" || p.Payload.SenderAuthenticator == "" {
		return fmt.Errorf("evidence blobs must be non-empty")
	}
	if _, err := base64.StdEncoding.DecodeString(p.Payload.Transaction); err != nil {
		return fmt.Errorf("transaction is not valid base64: %w", err)
	}
	if _, err := base64.StdEncoding.DecodeString(p.Payload.SenderAuthenticator); err != nil {
		return fmt.Errorf("senderAuthenticator is not valid base64: %w", err)
	}
	return nil
}
