package wallet

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402kit/x402/types"
)

func TestPlaceholderSigner(t *testing.T) {
	signer := NewPlaceholderSigner("0xpayer")
	assert.Equal(t, "0xpayer", signer.Address())

	evidence, err := signer.Sign(context.Background(), &types.PaymentRequirements{
		Scheme:  types.SchemeExact,
		Network: "testnet",
		Amount:  "1000",
		Asset:   "USDC",
		PayTo:   "0xabc",
	})
	require.NoError(t, err)

	tx, err := base64.StdEncoding.DecodeString(evidence.Transaction)
	require.NoError(t, err)
	assert.Len(t, tx, 64)

	auth, err := base64.StdEncoding.DecodeString(evidence.SenderAuthenticator)
	require.NoError(t, err)
	assert.Len(t, auth, 64)
}
