package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/x402kit/x402/logger"
	"github.com/x402kit/x402/metrics"
	"github.com/x402kit/x402/types"
)

// readTimeout bounds inbound connection reads so a stalled client cannot
// hold a handler goroutine open.
const readTimeout = 5 * time.Second

// Server is the HTTP front end of a facilitator Backend. Connections are
// handled one goroutine each by net/http; the only state shared between them
// is the backend and process-wide configuration, set once at construction.
type Server struct {
	backend Backend
	network string
	log     logger.Logger
	rec     metrics.Recorder
}

// NewServer wraps backend with HTTP handlers for /verify, /settle, /health
// and /supported. Nil logger or recorder default to no-ops.
func NewServer(backend Backend, network string, log logger.Logger, rec metrics.Recorder) *Server {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Server{
		backend: backend,
		network: network,
		log:     log,
		rec:     rec,
	}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/settle", s.handleSettle)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/supported", s.handleSupported)
	return mux
}

// ListenAndServe serves on addr until ctx is canceled or the listener
// fails. On cancellation the server drains in-flight requests briefly
// before returning ctx's error.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.Info("facilitator listening", map[string]any{"addr": addr, "network": s.network})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), readTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.backend.Verify(r.Context(), req)
	s.rec.ObserveLatency("verify", time.Since(start), map[string]string{"network": req.PaymentRequirements.Network})
	if err != nil {
		s.log.Error("verify failed", map[string]any{"error": err.Error()})
		s.writeError(w, statusFor(err), err)
		return
	}

	s.rec.IncCounter("verify", map[string]string{"network": req.PaymentRequirements.Network})
	s.log.Info("verify adjudicated", map[string]any{
		"isValid": result.IsValid,
		"reason":  result.InvalidReason,
	})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.backend.Settle(r.Context(), req)
	s.rec.ObserveLatency("settle", time.Since(start), map[string]string{"network": req.PaymentRequirements.Network})
	if err != nil {
		s.log.Error("settle failed", map[string]any{"error": err.Error()})
		s.writeError(w, statusFor(err), err)
		return
	}

	s.rec.IncCounter("settle", map[string]string{"network": req.PaymentRequirements.Network})
	s.log.Info("settle completed", map[string]any{
		"success":     result.Success,
		"transaction": result.Transaction,
	})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	s.writeJSON(w, http.StatusOK, &types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Network:   s.network,
	})
}

func (s *Server) handleSupported(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	sup, ok := s.backend.(Supporter)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("backend does not enumerate supported kinds"))
		return
	}
	s.writeJSON(w, http.StatusOK, sup.Supported())
}

// decodeRequest parses the combined {paymentPayload, paymentRequirements}
// body. A body that cannot even be decoded is a 400, distinct from an
// invalid payment, which is a 200 with isValid=false.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*types.VerifyRequest, bool) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return nil, false
	}

	var req types.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request body: %w", err))
		return nil, false
	}
	return &req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to write response", map[string]any{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, &types.ErrorResponse{Error: err.Error()})
}

// statusFor maps backend error codes to HTTP statuses. Settling an
// unverified payload is a caller ordering mistake, not a server fault.
func statusFor(err error) int {
	switch types.ErrorCode(err) {
	case types.ErrUnverifiedPayload:
		return http.StatusConflict
	case types.ErrInvalidPayload, types.ErrInvalidRequirements, types.ErrInvalidAmount:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
