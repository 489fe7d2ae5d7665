package types

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// X402Error tags a failure with a stable machine-readable code.
type X402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *X402Error) Error() string {
	return e.Message
}

// Error codes. Header decoding failures get their own codes so a flow can
// report exactly which way the advertised terms were unusable.
const (
	ErrMalformedHeader     = "malformed-header"
	ErrInvalidUTF8         = "invalid-utf8"
	ErrSchemaError         = "schema-error"
	ErrInvalidRequirements = "invalid-requirements"
	ErrInvalidPayload      = "invalid-payload"
	ErrInvalidAmount       = "invalid-amount"
	ErrUnverifiedPayload   = "unverified-payload"
	ErrSettlementFailed    = "settlement-failed"
	ErrNetworkError        = "network-error"
)

// Invalid reasons a facilitator reports in VerifyResult.InvalidReason. These
// are adjudication outcomes, not system faults.
const (
	ReasonRequirementsMismatch = "requirements-mismatch"
	ReasonInvalidAmount        = "invalid-amount"
	ReasonMalformedPayload     = "malformed-payload"
)

// ErrorCode extracts the X402Error code from err, or "" if err carries none.
func ErrorCode(err error) string {
	var x *X402Error
	if errors.As(err, &x) {
		return x.Code
	}
	return ""
}

var validate = validator.New()

// ValidateShape checks required fields only, without interpreting values.
// Decoders use it to distinguish structurally broken requirements from terms
// that are well-formed but unacceptable.
func (pr *PaymentRequirements) ValidateShape() error {
	if err := validate.Struct(pr); err != nil {
		return &X402Error{
			Code:    ErrSchemaError,
			Message: fmt.Sprintf("payment requirements do not match expected shape: %v", err),
		}
	}
	return nil
}

// Validate checks that the requirements are complete and that the amount is
// a non-negative integer in the asset's smallest unit.
func (pr *PaymentRequirements) Validate() error {
	if err := validate.Struct(pr); err != nil {
		return &X402Error{
			Code:    ErrInvalidRequirements,
			Message: fmt.Sprintf("invalid payment requirements: %v", err),
		}
	}
	return ValidateAmount(pr.Amount)
}

// ValidateAmount parses amount as a non-negative integer in atomic units.
func ValidateAmount(amount string) error {
	d, err := decimal.NewFromString(amount)
	if err != nil || d.IsNegative() || !d.IsInteger() {
		return &X402Error{
			Code:    ErrInvalidAmount,
			Message: fmt.Sprintf("amount %q is not a non-negative integer in atomic units", amount),
		}
	}
	return nil
}

// ValidateShape checks required fields of the payload without decoding the
// evidence blobs.
func (p *PaymentPayload) ValidateShape() error {
	if p.X402Version <= 0 {
		return &X402Error{
			Code:    ErrSchemaError,
			Message: "x402Version must be greater than 0",
		}
	}
	if err := validate.Struct(p); err != nil {
		return &X402Error{
			Code:    ErrSchemaError,
			Message: fmt.Sprintf("payment payload does not match expected shape: %v", err),
		}
	}
	return nil
}

// Validate checks that the request carries both a payload and the
// requirements it claims to satisfy.
func (v *VerifyRequest) Validate() error {
	if err := v.PaymentPayload.ValidateShape(); err != nil {
		return err
	}
	return v.PaymentRequirements.Validate()
}
