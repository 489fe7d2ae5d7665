// Package codec implements the wire encoding of x402 structures. Payment
// terms and proofs travel in HTTP headers as base64-wrapped JSON; decoding
// failures are tagged so callers can report exactly what was unusable.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/x402kit/x402/types"
)

// EncodeRequirementsHeader serializes requirements for the PAYMENT-REQUIRED
// response header: JSON, then standard padded base64.
func EncodeRequirementsHeader(req *types.PaymentRequirements) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", &types.X402Error{
			Code:    types.ErrSchemaError,
			Message: fmt.Sprintf("failed to serialize payment requirements: %v", err),
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirementsHeader is the inverse of EncodeRequirementsHeader. The
// error code distinguishes undecodable base64 (malformed-header), non-UTF-8
// content (invalid-utf8) and JSON that does not match the expected shape
// (schema-error). All three are terminal for the current flow attempt: the
// server's advertised terms are unusable.
func DecodeRequirementsHeader(value string) (*types.PaymentRequirements, error) {
	data, err := decodeHeader(value)
	if err != nil {
		return nil, err
	}

	var req types.PaymentRequirements
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrSchemaError,
			Message: fmt.Sprintf("failed to parse payment requirements: %v", err),
		}
	}
	if err := req.ValidateShape(); err != nil {
		return nil, err
	}
	return &req, nil
}

// EncodePayloadHeader serializes a payment proof for the PAYMENT-SIGNATURE
// request header on the retried resource request.
func EncodePayloadHeader(payload *types.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &types.X402Error{
			Code:    types.ErrSchemaError,
			Message: fmt.Sprintf("failed to serialize payment payload: %v", err),
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayloadHeader is the inverse of EncodePayloadHeader, with the same
// failure taxonomy as DecodeRequirementsHeader. Resource servers use it to
// recover the proof attached to a retried request.
func DecodePayloadHeader(value string) (*types.PaymentPayload, error) {
	data, err := decodeHeader(value)
	if err != nil {
		return nil, err
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrSchemaError,
			Message: fmt.Sprintf("failed to parse payment payload: %v", err),
		}
	}
	if err := payload.ValidateShape(); err != nil {
		return nil, err
	}
	return &payload, nil
}

func decodeHeader(value string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrMalformedHeader,
			Message: fmt.Sprintf("failed to base64-decode header: %v", err),
		}
	}
	if !utf8.Valid(data) {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidUTF8,
			Message: "decoded header bytes are not valid UTF-8",
		}
	}
	return data, nil
}
