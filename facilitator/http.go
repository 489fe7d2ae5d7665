package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/x402kit/x402/types"
)

// HTTPBackend talks to a remote facilitator over its /verify and /settle
// endpoints. It satisfies Backend, so callers do not care whether
// adjudication happens in process or across the network.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBackend creates a client for the facilitator at baseURL. Every call
// is bounded by timeout; zero means 30 seconds.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Verify submits the payload and requirements via POST /verify.
func (c *HTTPBackend) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResult, error) {
	var result types.VerifyResult
	if err := c.post(ctx, "/verify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Settle finalizes the payment via POST /settle with the same body as the
// preceding verify call.
func (c *HTTPBackend) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettleResult, error) {
	var result types.SettleResult
	if err := c.post(ctx, "/settle", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SupportedKinds fetches the facilitator's accepted scheme/network pairs via
// GET /supported.
func (c *HTTPBackend) SupportedKinds(ctx context.Context) (*types.SupportedResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supported request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrNetworkError,
			Message: fmt.Sprintf("facilitator supported call failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse("supported", resp)
	}

	var supported types.SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supported); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return &supported, nil
}

func (c *HTTPBackend) post(ctx context.Context, path string, req *types.VerifyRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &types.X402Error{
			Code:    types.ErrNetworkError,
			Message: fmt.Sprintf("facilitator %s call failed: %v", path, err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// errorFromResponse turns a non-2xx facilitator reply into a tagged error,
// preferring the {"error": ...} body when present.
func errorFromResponse(path string, resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var errResp types.ErrorResponse
	_ = json.Unmarshal(raw, &errResp)
	msg := errResp.Error
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return &types.X402Error{
		Code:    types.ErrNetworkError,
		Message: fmt.Sprintf("facilitator %s returned status %d: %s", path, resp.StatusCode, msg),
	}
}
