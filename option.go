package x402

import (
	"net/http"
	"time"

	"github.com/x402kit/x402/facilitator"
	"github.com/x402kit/x402/logger"
	"github.com/x402kit/x402/metrics"
	"github.com/x402kit/x402/wallet"
)

type Option func(*X402)

// WithLogger overrides the logger built from the config's log level.
func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.log = l
	}
}

// WithMetrics overrides the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.rec = r
	}
}

// WithTimeout bounds every network round-trip the instance makes.
func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

// WithBackend injects a facilitator backend, bypassing the config-driven
// choice. Tests use this to adjudicate against in-process fakes.
func WithBackend(b facilitator.Backend) Option {
	return func(x *X402) {
		x.backend = b
	}
}

// WithSigner injects the wallet capability producing payment evidence.
func WithSigner(s wallet.Signer) Option {
	return func(x *X402) {
		x.signer = s
	}
}

// WithHTTPClient sets the client used for resource probe and retry requests.
func WithHTTPClient(c *http.Client) Option {
	return func(x *X402) {
		x.httpClient = c
	}
}
