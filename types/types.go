// Package types defines the wire structures of the x402 pay-for-access
// protocol: the payment terms a resource server advertises, the payment
// proof a client submits, and the facilitator's verify/settle results.
package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// ProtocolVersion is the x402 protocol version this library speaks.
const ProtocolVersion = 2

// Header names used to carry payment data over HTTP.
const (
	// HeaderPaymentRequired carries base64-encoded PaymentRequirements on a
	// 402 response.
	HeaderPaymentRequired = "PAYMENT-REQUIRED"

	// HeaderPaymentSignature carries the base64-encoded PaymentPayload on
	// the retried resource request.
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
)

// SchemeExact is the only payment scheme this core implements: the payload
// must authorize exactly the advertised amount.
const SchemeExact = "exact"

// Extra carries optional scheme-specific flags attached to payment
// requirements.
type Extra struct {
	Sponsored *bool `json:"sponsored,omitempty"`
}

// PaymentRequirements defines the terms a resource server demands before
// granting access. Once parsed from a 402 response it is carried unchanged
// through the verify and settle calls so the facilitator can detect a client
// substituting different terms.
type PaymentRequirements struct {
	// Scheme of the payment mechanism (e.g. "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network is the target chain or network identifier.
	Network string `json:"network" validate:"required"`

	// Amount required, in atomic units of the asset. Represented as a
	// string because Go does not support uint256.
	Amount string `json:"amount" validate:"required"`

	// Asset is the token or asset identifier.
	Asset string `json:"asset" validate:"required"`

	// PayTo is the recipient address.
	PayTo string `json:"payTo" validate:"required"`

	// Extra holds scheme-specific flags, if any.
	Extra *Extra `json:"extra,omitempty"`
}

// Equal reports whether two requirements are structurally identical.
// Comparison is by canonical JSON so that the key order of the original wire
// form does not matter.
func (pr *PaymentRequirements) Equal(other *PaymentRequirements) bool {
	if pr == nil || other == nil {
		return pr == other
	}
	a, err := json.Marshal(pr)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// ExactPayload is the scheme-specific evidence for the "exact" scheme: an
// opaque signed transaction and the sender's authenticator, both
// base64-encoded byte blobs.
type ExactPayload struct {
	Transaction         string `json:"transaction" validate:"required"`
	SenderAuthenticator string `json:"senderAuthenticator" validate:"required"`
}

// PaymentPayload is the client-constructed proof submitted to satisfy a set
// of payment requirements. Accepted must be byte-for-byte the requirements
// received from the 402 response; a facilitator rejects any mismatch.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     ExactPayload        `json:"payload"`
}

// VerifyRequest is the combined body submitted to a facilitator's /verify
// and /settle endpoints.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResult is the facilitator's verification verdict. InvalidReason is
// set iff IsValid is false.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult is the facilitator's settlement outcome. Transaction, Network
// and Payer are only meaningful when Success is true.
type SettleResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// ErrorResponse is the JSON body a facilitator returns on any non-2xx
// status. Clients treat it as a terminal transport-level failure, distinct
// from an isValid=false adjudication.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by a facilitator's /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Network   string `json:"network,omitempty"`
}

// SupportedItem describes one scheme/network pair a facilitator accepts.
type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse lists everything a facilitator accepts.
type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}

// Config contains global configuration for the library.
type Config struct {
	// FacilitatorURL is the base URL of the facilitator the client flow
	// talks to. Empty means adjudicate in process with a local backend.
	FacilitatorURL string `json:"facilitatorUrl,omitempty"`

	// Network identifier advertised by the local backend.
	Network string `json:"network,omitempty"`

	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`
	LogLevel       string        `json:"logLevel,omitempty"`
	EnableMetrics  bool          `json:"enableMetrics,omitempty"`
}
