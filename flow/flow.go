// Package flow drives the end-to-end x402 exchange: probe the resource,
// parse the 402 terms, build a proof, have a facilitator verify and settle
// it, then retry the resource with the proof attached.
package flow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/x402kit/x402/codec"
	"github.com/x402kit/x402/facilitator"
	"github.com/x402kit/x402/logger"
	"github.com/x402kit/x402/metrics"
	"github.com/x402kit/x402/types"
	"github.com/x402kit/x402/wallet"
)

// State identifies how far a flow invocation has progressed. The pipeline is
// strictly linear with a single absorbing failure state; each invocation
// performs exactly one probe/verify/settle/retry cycle, never looping back.
type State string

const (
	StateProbing              State = "probing"
	StateAwaitingPaymentTerms State = "awaiting-payment-terms"
	StateBuildingProof        State = "building-proof"
	StateVerifying            State = "verifying"
	StateSettling             State = "settling"
	StateRetrying             State = "retrying"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Failure reasons reported when the flow stops short of Done. Transport
// reasons mean infrastructure broke; payment-invalid and settlement-failed
// mean a correctly functioning facilitator refused the payment.
const (
	ReasonUnexpectedStatus       = "unexpected-status"
	ReasonMissingPaymentRequired = "missing-payment-required-header"
	ReasonProbeTransport         = "probe-transport-error"
	ReasonSigningFailed          = "signing-failed"
	ReasonVerifyTransport        = "verify-transport-error"
	ReasonPaymentInvalid         = "payment-invalid"
	ReasonSettlementFailed       = "settlement-failed"
	ReasonRetryTransport         = "retry-transport-error"
	ReasonIncomplete             = "incomplete"
)

// Report summarizes one flow invocation: the state it reached, why it
// stopped, and any partial payment progress. A payment that was verified but
// never settled, or settled but never retried, stays visible here.
type Report struct {
	State         State  `json:"state"`
	FailureReason string `json:"failureReason,omitempty"`

	Requirements *types.PaymentRequirements `json:"requirements,omitempty"`
	Verified     bool                       `json:"verified"`
	Settled      bool                       `json:"settled"`
	Transaction  string                     `json:"transaction,omitempty"`
	Payer        string                     `json:"payer,omitempty"`

	// ResourceStatus is the last status the resource server answered with,
	// and Body its response body when that status was a success.
	ResourceStatus int    `json:"resourceStatus,omitempty"`
	Body           string `json:"body,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// Config tunes one Flow. Zero values get defaults.
type Config struct {
	// HTTPClient issues the resource probe and retry requests.
	HTTPClient *http.Client

	// CallTimeout bounds each of the four network round-trips.
	CallTimeout time.Duration

	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Flow orchestrates payment exchanges against one facilitator backend. A
// Flow is safe for concurrent use: invocations share no mutable state.
type Flow struct {
	backend     facilitator.Backend
	signer      wallet.Signer
	httpClient  *http.Client
	callTimeout time.Duration
	log         logger.Logger
	rec         metrics.Recorder
}

// New creates a flow that adjudicates through backend and signs with signer.
func New(backend facilitator.Backend, signer wallet.Signer, cfg Config) *Flow {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NoopLogger{}
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Flow{
		backend:     backend,
		signer:      signer,
		httpClient:  httpClient,
		callTimeout: callTimeout,
		log:         log,
		rec:         rec,
	}
}

// Run executes one probe/verify/settle/retry cycle against resourceURL. The
// report is always non-nil and records the terminal state; the error is
// non-nil only when ctx was canceled mid-flow, in which case the report's
// Verified/Settled flags show how far the payment got before it was cut off.
func (f *Flow) Run(ctx context.Context, resourceURL string) (*Report, error) {
	start := time.Now()
	report := &Report{State: StateProbing}
	defer func() {
		report.Elapsed = time.Since(start)
		f.rec.ObserveLatency("flow", report.Elapsed, map[string]string{"network": f.network(report)})
	}()

	f.log.Info("probing resource", map[string]any{"url": resourceURL})
	probe, err := f.getResource(ctx, resourceURL, "")
	if err != nil {
		return f.stop(ctx, report, ReasonProbeTransport, err)
	}
	report.ResourceStatus = probe.status

	switch {
	case probe.status >= 200 && probe.status < 300:
		// The resource is free. A flow ending here made zero facilitator
		// calls and that is a valid terminal outcome.
		report.State = StateDone
		report.Body = string(probe.body)
		f.log.Info("no payment required", map[string]any{"status": probe.status})
		return report, nil
	case probe.status == http.StatusPaymentRequired:
	default:
		return f.stop(ctx, report, ReasonUnexpectedStatus,
			fmt.Errorf("resource answered status %d, expected 402", probe.status))
	}

	report.State = StateAwaitingPaymentTerms
	header := probe.header.Get(types.HeaderPaymentRequired)
	if header == "" {
		return f.stop(ctx, report, ReasonMissingPaymentRequired,
			fmt.Errorf("402 response carries no %s header", types.HeaderPaymentRequired))
	}
	requirements, err := codec.DecodeRequirementsHeader(header)
	if err != nil {
		// Propagate the codec's specific failure kind.
		return f.stop(ctx, report, types.ErrorCode(err), err)
	}
	report.Requirements = requirements
	f.log.Info("payment terms received", map[string]any{
		"scheme":  requirements.Scheme,
		"network": requirements.Network,
		"amount":  requirements.Amount,
		"asset":   requirements.Asset,
		"payTo":   requirements.PayTo,
	})

	report.State = StateBuildingProof
	evidence, err := f.signer.Sign(ctx, requirements)
	if err != nil {
		return f.stop(ctx, report, ReasonSigningFailed, err)
	}
	if evidence == nil || evidence.Transaction == "" || evidence.SenderAuthenticator == "" {
		return f.stop(ctx, report, ReasonSigningFailed, fmt.Errorf("signer produced empty evidence"))
	}

	// The decoded requirements go into the proof verbatim; the facilitator
	// rejects any substitution of terms.
	payload := &types.PaymentPayload{
		X402Version: types.ProtocolVersion,
		Accepted:    *requirements,
		Payload: types.ExactPayload{
			Transaction:         evidence.Transaction,
			SenderAuthenticator: evidence.SenderAuthenticator,
		},
	}
	verifyReq := &types.VerifyRequest{
		PaymentPayload:      *payload,
		PaymentRequirements: *requirements,
	}

	report.State = StateVerifying
	verdict, err := f.callVerify(ctx, verifyReq)
	if err != nil {
		return f.stop(ctx, report, ReasonVerifyTransport, err)
	}
	if !verdict.IsValid {
		// An adjudication rejection, not an infrastructure fault.
		return f.stop(ctx, report, ReasonPaymentInvalid+": "+verdict.InvalidReason, nil)
	}
	report.Verified = true
	report.Payer = verdict.Payer

	report.State = StateSettling
	settlement, err := f.callSettle(ctx, verifyReq)
	if err != nil {
		return f.stop(ctx, report, ReasonSettlementFailed, err)
	}
	if !settlement.Success {
		return f.stop(ctx, report, ReasonSettlementFailed, nil)
	}
	report.Settled = true
	report.Transaction = settlement.Transaction
	if settlement.Payer != "" {
		report.Payer = settlement.Payer
	}
	f.log.Info("payment settled", map[string]any{
		"transaction": settlement.Transaction,
		"network":     settlement.Network,
		"payer":       settlement.Payer,
	})

	report.State = StateRetrying
	signature, err := codec.EncodePayloadHeader(payload)
	if err != nil {
		return f.stop(ctx, report, types.ErrorCode(err), err)
	}
	retry, err := f.getResource(ctx, resourceURL, signature)
	if err != nil {
		return f.stop(ctx, report, ReasonRetryTransport, err)
	}

	// Whatever the retried resource answers is terminal: one settle/retry
	// attempt per invocation, no resubmission loop.
	report.State = StateDone
	report.ResourceStatus = retry.status
	if retry.status >= 200 && retry.status < 300 {
		report.Body = string(retry.body)
	}
	f.rec.IncCounter("flow_completed", map[string]string{"network": f.network(report)})
	f.log.Info("payment flow complete", map[string]any{
		"status":      retry.status,
		"transaction": report.Transaction,
	})
	return report, nil
}

// stop absorbs the flow into Failed. When ctx was canceled the outcome is
// reported as incomplete instead, and ctx's error is surfaced so the caller
// can tell a cut-off payment from a decided one.
func (f *Flow) stop(ctx context.Context, report *Report, reason string, err error) (*Report, error) {
	report.State = StateFailed
	if ctx.Err() != nil {
		report.FailureReason = ReasonIncomplete + ": " + ctx.Err().Error()
		f.log.Warn("payment flow canceled", map[string]any{
			"verified": report.Verified,
			"settled":  report.Settled,
		})
		return report, ctx.Err()
	}
	report.FailureReason = reason
	fields := map[string]any{"reason": reason}
	if err != nil {
		fields["error"] = err.Error()
	}
	f.rec.IncCounter("flow_failed", map[string]string{"network": f.network(report)})
	f.log.Warn("payment flow failed", fields)
	return report, nil
}

func (f *Flow) callVerify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()
	return f.backend.Verify(callCtx, req)
}

func (f *Flow) callSettle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()
	return f.backend.Settle(callCtx, req)
}

type resourceResponse struct {
	status int
	header http.Header
	body   []byte
}

// getResource issues a bounded GET, attaching the payment signature header
// when one is supplied.
func (f *Flow) getResource(ctx context.Context, url, signature string) (*resourceResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource request: %w", err)
	}
	if signature != "" {
		req.Header.Set(types.HeaderPaymentSignature, signature)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resource request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource response: %w", err)
	}
	return &resourceResponse{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (f *Flow) network(report *Report) string {
	if report.Requirements != nil {
		return report.Requirements.Network
	}
	return ""
}
