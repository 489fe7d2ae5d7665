// Package x402 implements the x402 pay-for-access protocol core: the
// payment header codec, a facilitator service that verifies and settles
// payment proofs, and the client flow that drives a full
// probe/verify/settle/retry exchange.
package x402

import (
	"context"
	"net/http"
	"time"

	"github.com/x402kit/x402/facilitator"
	"github.com/x402kit/x402/flow"
	"github.com/x402kit/x402/logger"
	"github.com/x402kit/x402/metrics"
	"github.com/x402kit/x402/types"
	"github.com/x402kit/x402/wallet"
)

// Version information.
const (
	Version         = "0.2.0"
	ProtocolVersion = types.ProtocolVersion
)

// X402 wires a facilitator backend, a signer and the client flow together
// under one configuration.
type X402 struct {
	config     *types.Config
	backend    facilitator.Backend
	signer     wallet.Signer
	httpClient *http.Client
	log        logger.Logger
	rec        metrics.Recorder
	timeout    time.Duration
}

// New creates an X402 instance. With no options the backend is chosen from
// the config: a remote HTTP facilitator when FacilitatorURL is set,
// otherwise an in-process local backend for the configured network. The
// facilitator base URL is configuration, never a compiled-in constant.
func New(config *types.Config, opts ...Option) *X402 {
	if config == nil {
		config = &types.Config{}
	}

	timeout := 30 * time.Second
	if config.DefaultTimeout > 0 {
		timeout = config.DefaultTimeout
	}

	x := &X402{
		config:  config,
		timeout: timeout,
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
	}
	if config.LogLevel != "" {
		x.log = logger.NewZapLogger(config.LogLevel)
	}
	if config.EnableMetrics {
		x.rec = metrics.NewPrometheusRecorder()
	}

	for _, opt := range opts {
		opt(x)
	}

	if x.signer == nil {
		x.signer = wallet.NewPlaceholderSigner("")
	}
	if x.backend == nil {
		if config.FacilitatorURL != "" {
			x.backend = facilitator.NewHTTPBackend(config.FacilitatorURL, x.timeout)
		} else {
			x.backend = facilitator.NewLocalBackend(config.Network, x.signer.Address()).WithLogger(x.log)
		}
	}

	return x
}

// NewWithDefaults creates an X402 instance adjudicating in process on the
// testnet network.
func NewWithDefaults() *X402 {
	return New(&types.Config{
		Network:        "testnet",
		DefaultTimeout: 30 * time.Second,
	})
}

// Verify adjudicates a payment proof against its requirements.
func (x *X402) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResult, error) {
	return x.backend.Verify(ctx, req)
}

// Settle finalizes a previously verified payment.
func (x *X402) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResult, error) {
	return x.backend.Settle(ctx, req)
}

// Flow returns the client-side payment flow bound to this instance's
// backend and signer.
func (x *X402) Flow() *flow.Flow {
	return flow.New(x.backend, x.signer, flow.Config{
		HTTPClient:  x.httpClient,
		CallTimeout: x.timeout,
		Logger:      x.log,
		Metrics:     x.rec,
	})
}

// Pay runs one complete payment exchange against resourceURL.
func (x *X402) Pay(ctx context.Context, resourceURL string) (*flow.Report, error) {
	return x.Flow().Run(ctx, resourceURL)
}

// Serve runs a facilitator HTTP server over this instance's backend until
// ctx is canceled.
func (x *X402) Serve(ctx context.Context, addr string) error {
	return facilitator.NewServer(x.backend, x.config.Network, x.log, x.rec).ListenAndServe(ctx, addr)
}

// Supported enumerates the scheme/network pairs the backend accepts, or nil
// when the backend cannot say.
func (x *X402) Supported() *types.SupportedResponse {
	if sup, ok := x.backend.(facilitator.Supporter); ok {
		return sup.Supported()
	}
	return nil
}
