package x402

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402kit/x402/codec"
	"github.com/x402kit/x402/flow"
	"github.com/x402kit/x402/types"
	"github.com/x402kit/x402/wallet"
)

func TestNewDefaultsToLocalBackend(t *testing.T) {
	x := NewWithDefaults()

	supported := x.Supported()
	require.NotNil(t, supported)
	require.Len(t, supported.Kinds, 1)
	assert.Equal(t, "testnet", supported.Kinds[0].Network)
}

func TestVerifyAndSettleThroughFacade(t *testing.T) {
	x := New(
		&types.Config{Network: "testnet"},
		WithSigner(wallet.NewPlaceholderSigner("0xpayer")),
	)

	req := testRequirements()
	blob := base64.StdEncoding.EncodeToString(make([]byte, 64))
	verifyReq := &types.VerifyRequest{
		PaymentPayload: types.PaymentPayload{
			X402Version: types.ProtocolVersion,
			Accepted:    *req,
			Payload:     types.ExactPayload{Transaction: blob, SenderAuthenticator: blob},
		},
		PaymentRequirements: *req,
	}

	ctx := context.Background()
	verdict, err := x.Verify(ctx, verifyReq)
	require.NoError(t, err)
	assert.True(t, verdict.IsValid)
	assert.Equal(t, "0xpayer", verdict.Payer)

	settlement, err := x.Settle(ctx, verifyReq)
	require.NoError(t, err)
	assert.True(t, settlement.Success)
	assert.Equal(t, "testnet", settlement.Network)
}

func TestPayEndToEnd(t *testing.T) {
	header, err := codec.EncodeRequirementsHeader(testRequirements())
	require.NoError(t, err)

	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(types.HeaderPaymentSignature) != "" {
			fmt.Fprint(w, "paid content")
			return
		}
		w.Header().Set(types.HeaderPaymentRequired, header)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer resource.Close()

	x := New(
		&types.Config{Network: "testnet"},
		WithSigner(wallet.NewPlaceholderSigner("0xpayer")),
	)

	report, err := x.Pay(context.Background(), resource.URL)
	require.NoError(t, err)
	assert.Equal(t, flow.StateDone, report.State)
	assert.True(t, report.Settled)
	assert.Equal(t, "paid content", report.Body)
	assert.NotEmpty(t, report.Transaction)
}

func testRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:  types.SchemeExact,
		Network: "testnet",
		Amount:  "1000",
		Asset:   "USDC",
		PayTo:   "0xabc",
	}
}
