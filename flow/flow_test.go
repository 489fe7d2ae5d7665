package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402kit/x402/codec"
	"github.com/x402kit/x402/facilitator"
	"github.com/x402kit/x402/types"
	"github.com/x402kit/x402/wallet"
)

func testRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:  types.SchemeExact,
		Network: "testnet",
		Amount:  "1000",
		Asset:   "USDC",
		PayTo:   "0xabc",
	}
}

// callRecorder counts HTTP calls across servers and remembers their order.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *callRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// newPaidResource answers 402 with the given terms until a request carries a
// payment signature, then serves the body.
func newPaidResource(t *testing.T, rec *callRecorder, req *types.PaymentRequirements, body string) *httptest.Server {
	t.Helper()
	header, err := codec.EncodeRequirementsHeader(req)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(types.HeaderPaymentSignature) != "" {
			rec.record("retry")
			fmt.Fprint(w, body)
			return
		}
		rec.record("probe")
		w.Header().Set(types.HeaderPaymentRequired, header)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newScriptedFacilitator serves fixed verify/settle responses and records
// which endpoints were hit.
func newScriptedFacilitator(t *testing.T, rec *callRecorder, verdict *types.VerifyResult, settlement *types.SettleResult) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		rec.record("verify")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(verdict)
	})
	mux.HandleFunc("/settle", func(w http.ResponseWriter, r *http.Request) {
		rec.record("settle")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(settlement)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFlow(backend facilitator.Backend) *Flow {
	return New(backend, wallet.NewPlaceholderSigner("0xpayer"), Config{})
}

func TestFlowFreeResource(t *testing.T) {
	rec := &callRecorder{}
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record("probe")
		fmt.Fprint(w, "free content")
	}))
	t.Cleanup(resource.Close)

	facRec := &callRecorder{}
	fac := newScriptedFacilitator(t, facRec, &types.VerifyResult{IsValid: true}, &types.SettleResult{Success: true})

	f := newTestFlow(facilitator.NewHTTPBackend(fac.URL, 0))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, "free content", report.Body)
	assert.Equal(t, http.StatusOK, report.ResourceStatus)
	assert.False(t, report.Verified)
	assert.False(t, report.Settled)
	// Exactly one resource call and zero facilitator calls.
	assert.Equal(t, []string{"probe"}, rec.recorded())
	assert.Empty(t, facRec.recorded())
}

func TestFlowFullPaymentCycle(t *testing.T) {
	rec := &callRecorder{}
	resource := newPaidResource(t, rec, testRequirements(), "paid content")
	fac := newScriptedFacilitator(t, rec,
		&types.VerifyResult{IsValid: true},
		&types.SettleResult{Success: true, Transaction: "0xdead", Network: "testnet", Payer: "0xpayer"},
	)

	f := newTestFlow(facilitator.NewHTTPBackend(fac.URL, 0))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Empty(t, report.FailureReason)
	assert.True(t, report.Verified)
	assert.True(t, report.Settled)
	assert.Equal(t, "0xdead", report.Transaction)
	assert.Equal(t, "0xpayer", report.Payer)
	assert.Equal(t, http.StatusOK, report.ResourceStatus)
	assert.Equal(t, "paid content", report.Body)
	assert.Greater(t, report.Elapsed.Nanoseconds(), int64(0))

	// Exactly four HTTP calls, in protocol order.
	assert.Equal(t, []string{"probe", "verify", "settle", "retry"}, rec.recorded())
}

func TestFlowRejectedPayment(t *testing.T) {
	rec := &callRecorder{}
	resource := newPaidResource(t, rec, testRequirements(), "paid content")
	fac := newScriptedFacilitator(t, rec,
		&types.VerifyResult{IsValid: false, InvalidReason: "insufficient-funds"},
		&types.SettleResult{Success: true},
	)

	f := newTestFlow(facilitator.NewHTTPBackend(fac.URL, 0))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, "payment-invalid: insufficient-funds", report.FailureReason)
	assert.False(t, report.Verified)
	assert.False(t, report.Settled)
	// No settle call, no retry.
	assert.Equal(t, []string{"probe", "verify"}, rec.recorded())
}

func TestFlowMissingPaymentRequiredHeader(t *testing.T) {
	rec := &callRecorder{}
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record("probe")
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	t.Cleanup(resource.Close)

	facRec := &callRecorder{}
	fac := newScriptedFacilitator(t, facRec, &types.VerifyResult{IsValid: true}, &types.SettleResult{Success: true})

	f := newTestFlow(facilitator.NewHTTPBackend(fac.URL, 0))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, ReasonMissingPaymentRequired, report.FailureReason)
	assert.Empty(t, facRec.recorded())
}

func TestFlowUnexpectedStatus(t *testing.T) {
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(resource.Close)

	f := newTestFlow(facilitator.NewLocalBackend("testnet", "0xpayer"))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, ReasonUnexpectedStatus, report.FailureReason)
	assert.Equal(t, http.StatusInternalServerError, report.ResourceStatus)
}

func TestFlowMalformedTermsHeader(t *testing.T) {
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(types.HeaderPaymentRequired, "%%%not-base64%%%")
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	t.Cleanup(resource.Close)

	f := newTestFlow(facilitator.NewLocalBackend("testnet", "0xpayer"))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.State)
	// The codec's specific failure kind propagates.
	assert.Equal(t, types.ErrMalformedHeader, report.FailureReason)
}

func TestFlowSettlementFailure(t *testing.T) {
	rec := &callRecorder{}
	resource := newPaidResource(t, rec, testRequirements(), "paid content")
	fac := newScriptedFacilitator(t, rec,
		&types.VerifyResult{IsValid: true},
		&types.SettleResult{Success: false},
	)

	f := newTestFlow(facilitator.NewHTTPBackend(fac.URL, 0))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, ReasonSettlementFailed, report.FailureReason)
	// Verified-but-not-settled stays visible.
	assert.True(t, report.Verified)
	assert.False(t, report.Settled)
	assert.Equal(t, []string{"probe", "verify", "settle"}, rec.recorded())
}

func TestFlowVerifyTransportError(t *testing.T) {
	rec := &callRecorder{}
	resource := newPaidResource(t, rec, testRequirements(), "paid content")

	// A facilitator that answers non-2xx: terminal transport failure,
	// distinct from an invalid payment.
	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(&types.ErrorResponse{Error: "backend down"})
	}))
	t.Cleanup(fac.Close)

	f := newTestFlow(facilitator.NewHTTPBackend(fac.URL, 0))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, ReasonVerifyTransport, report.FailureReason)
	assert.False(t, report.Verified)
}

func TestFlowLocalBackendEndToEnd(t *testing.T) {
	// Same cycle, adjudicated in process: zero facilitator HTTP calls.
	rec := &callRecorder{}
	resource := newPaidResource(t, rec, testRequirements(), "paid content")

	f := newTestFlow(facilitator.NewLocalBackend("testnet", "0xpayer"))
	report, err := f.Run(context.Background(), resource.URL)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.True(t, report.Settled)
	assert.Equal(t, "paid content", report.Body)
	assert.Equal(t, []string{"probe", "retry"}, rec.recorded())
}

type blockingBackend struct {
	entered chan struct{}
}

func (b *blockingBackend) Verify(ctx context.Context, _ *types.VerifyRequest) (*types.VerifyResult, error) {
	close(b.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingBackend) Settle(context.Context, *types.VerifyRequest) (*types.SettleResult, error) {
	return nil, fmt.Errorf("settle must not be reached")
}

func TestFlowCancellationIsIncomplete(t *testing.T) {
	rec := &callRecorder{}
	resource := newPaidResource(t, rec, testRequirements(), "paid content")

	backend := &blockingBackend{entered: make(chan struct{})}
	f := newTestFlow(backend)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-backend.entered
		cancel()
	}()

	report, err := f.Run(ctx, resource.URL)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateFailed, report.State)
	assert.Contains(t, report.FailureReason, ReasonIncomplete)
	assert.False(t, report.Verified)
	assert.False(t, report.Settled)
	// Only the probe went out: no settle, no retry after cancellation.
	assert.Equal(t, []string{"probe"}, rec.recorded())
}

func TestFlowProbeTransportError(t *testing.T) {
	f := newTestFlow(facilitator.NewLocalBackend("testnet", "0xpayer"))

	report, err := f.Run(context.Background(), "http://127.0.0.1:1/")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, ReasonProbeTransport, report.FailureReason)
}
