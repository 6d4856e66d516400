package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"repchain/consensus/mining"
	"repchain/crypto"
	"repchain/observability"
	"repchain/services/archive"
	"repchain/state/bank"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	signedSeenTTL   = 15 * time.Minute
)

// Config tunes the arbiter RPC server.
type Config struct {
	// AuthToken guards the colony-side methods that append log entries and
	// move stake. Those methods are refused while neither it nor JWT is set.
	AuthToken         string
	JWT               JWTConfig
	RequestsPerMinute float64
	Burst             int
	// Events, when set, is served as a websocket stream on /ws.
	Events *EventHub
	// Archive backs the archive_* query methods.
	Archive *archive.Archive
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Server struct {
	arbiter *mining.Arbiter
	stakes  *bank.StakeLedger
	auth    *authenticator
	events  *EventHub
	archive *archive.Archive
	logger  *slog.Logger
	limiter *RateLimiter
	now     func() time.Time

	mu         sync.Mutex
	signedSeen map[common.Hash]time.Time
}

// NewServer exposes arb over JSON-RPC. stakes may be nil when stake is
// managed elsewhere; the stake methods then report method not found.
func NewServer(arb *mining.Arbiter, stakes *bank.StakeLedger, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Server{
		now:        now,
		arbiter:    arb,
		stakes:     stakes,
		auth:       newAuthenticator(cfg.AuthToken, cfg.JWT),
		events:     cfg.Events,
		archive:    cfg.Archive,
		logger:     logger,
		limiter:    NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		signedSeen: make(map[common.Hash]time.Time),
	}
}

// Handler returns the HTTP surface: JSON-RPC on "/", plus health and
// Prometheus endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if s.events != nil {
		r.Get("/ws", s.handleEventsWS)
	}
	r.With(s.limiter.Middleware).Post("/", s.handle)
	return otelhttp.NewHandler(r, "arbiter-rpc")
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown rpc: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
	// Nonce is the signing time in Unix nanoseconds. Signed methods refuse
	// bodies whose nonce is missing or outside the replay window.
	Nonce int64 `json:"nonce,omitempty"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// errorData is attached to domain errors.
type errorData struct {
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps arbiter errors onto HTTP statuses and reason codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, id interface{}, err error) {
	if d, ok := classify(err); ok {
		writeError(w, d.status, id, d.code, err.Error(), errorData{Reason: d.reason})
		return
	}
	s.logger.Error("rpc handler failed",
		slog.String("requestId", RequestIDFrom(r.Context())),
		slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", nil)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
	method := ""
	defer func() {
		observability.ModuleMetrics().Observe("mining", method, w.status, time.Since(start))
	}()

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	if scope, ok := methodScopes[req.Method]; ok {
		if authErr := s.auth.authorize(r, scope); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	switch req.Method {
	case MethodAppendUpdate:
		s.handleAppendUpdate(w, r, req)
	case MethodActiveCycle:
		s.handleActiveCycle(w, r, req)
	case MethodAccumulatingCycle:
		s.handleAccumulatingCycle(w, r, req)
	case MethodCycleLog:
		s.handleCycleLog(w, r, req)
	case MethodSubmitRootHash:
		s.withSigner(w, r, req, body, s.handleSubmitRootHash)
	case MethodConfirmJustification:
		s.withSigner(w, r, req, body, s.handleConfirmJustification)
	case MethodRespondBisection:
		s.withSigner(w, r, req, body, s.handleRespondBisection)
	case MethodRespondReplay:
		s.withSigner(w, r, req, body, s.handleRespondReplay)
	case MethodConfirmNewHash:
		s.handleConfirmNewHash(w, r, req)
	case MethodPairings:
		s.handlePairings(w, r, req)
	case MethodPairing:
		s.handlePairing(w, r, req)
	case MethodCanonical:
		s.handleCanonical(w, r, req)
	case MethodConfirmation:
		s.handleConfirmation(w, r, req)
	case MethodHistory:
		s.handleHistory(w, r, req)
	case MethodVerifyProof:
		s.handleVerifyProof(w, r, req)
	case MethodStakeDeposit, MethodStakeWithdraw, MethodStakeGet:
		if s.stakes == nil {
			writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
			return
		}
		s.handleStake(w, r, req)
	case MethodArchiveEvents, MethodArchiveSlashes, MethodArchiveConfirmations:
		if s.archive == nil {
			writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
			return
		}
		s.handleArchive(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
}

type signedHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest, miner common.Address)

// withSigner recovers the miner from the signature header and rejects a
// signed body that is stale or was already accepted. A body is remembered for
// as long as its nonce stays inside the window, so it cannot come back once
// forgotten.
func (s *Server) withSigner(w http.ResponseWriter, r *http.Request, req *RPCRequest, body []byte, next signedHandler) {
	raw := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if raw == "" {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing "+SignatureHeader+" header", nil)
		return
	}
	sig, err := hexutil.Decode(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "malformed signature", err.Error())
		return
	}
	miner, err := crypto.RecoverRequestSigner(body, sig)
	if err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "invalid signature", err.Error())
		return
	}
	now := s.now()
	if !freshNonce(req.Nonce, now) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "stale or missing nonce", nil)
		return
	}
	if !s.rememberSigned(common.BytesToHash(ethcrypto.Keccak256(body)), now) {
		writeError(w, http.StatusConflict, req.ID, codeInvalidRequest, "signed request already processed", nil)
		return
	}
	next(w, r, req, miner)
}

func freshNonce(nonce int64, now time.Time) bool {
	if nonce <= 0 {
		return false
	}
	skew := now.Sub(time.Unix(0, nonce))
	return skew <= signedSeenTTL && skew >= -signedSeenTTL
}

func (s *Server) rememberSigned(hash common.Hash, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, seenAt := range s.signedSeen {
		// A nonce accepted at the edge of the future skew stays valid for two
		// windows.
		if now.Sub(seenAt) > 2*signedSeenTTL {
			delete(s.signedSeen, h)
		}
	}
	if _, exists := s.signedSeen[hash]; exists {
		return false
	}
	s.signedSeen[hash] = now
	return true
}

// decodeParams unmarshals the single parameter object. Methods whose
// parameters are all optional accept an empty list.
func decodeParams(req *RPCRequest, dst interface{}, optional bool) *RPCError {
	if len(req.Params) == 0 && optional {
		return nil
	}
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: "exactly one parameter object expected"}
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: err.Error()}
	}
	return nil
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
