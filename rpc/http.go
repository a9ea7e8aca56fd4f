package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nftescrow/core/types"
	"nftescrow/native/escrow"
	"nftescrow/native/token"
	"nftescrow/observability"
	"nftescrow/services/indexer"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20

	requestIDHeader = "X-Request-ID"
	moduleName      = "rpc"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnavailable    = -32001
	codeDuplicateTx    = -32010
	codeRateLimited    = -32020
)

// Backend is the ledger surface the server exposes.
type Backend interface {
	Submit(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Order(buyer [20]byte) (*escrow.Order, error)
	BalanceOf(account [20]byte) (*big.Int, error)
	Account(addr [20]byte) (*token.Account, error)
}

// EventIndex answers historical event queries. Optional.
type EventIndex interface {
	ListByOrder(ctx context.Context, order string, limit int) ([]indexer.EventRecord, error)
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	RateLimit RateLimit
	Logger    *slog.Logger
	Index     EventIndex
}

// Server serves the JSON-RPC API over HTTP.
type Server struct {
	backend Backend
	index   EventIndex
	limiter *RateLimiter
	logger  *slog.Logger
	router  chi.Router
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

// NewServer wires the router. The backend is required.
func NewServer(backend Backend, cfg ServerConfig) (*Server, error) {
	if backend == nil {
		return nil, errors.New("rpc: backend required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		index:   cfg.Index,
		logger:  logger.With("component", moduleName),
	}
	limiter, err := NewRateLimiter(cfg.RateLimit, s.logger)
	if err != nil {
		return nil, err
	}
	s.limiter = limiter

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.Middleware).Post("/", s.handle)
	s.router = r
	return s, nil
}

// Handler returns the traced HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "escrow.rpc")
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the JSON-RPC error code written for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}


func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	method := "invalid"
	defer func() {
		observability.ModuleMetrics().Observe(moduleName, method, rec.code, time.Since(start))
	}()

	reader := http.MaxBytesReader(rec, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	rec.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(rec, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(rec, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(rec, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	switch req.Method {
	case "escrow_sendTransaction":
		s.handleSendTransaction(rec, r, req)
	case "escrow_getOrder":
		s.handleGetOrder(rec, r, req)
	case "escrow_deriveOrderAddress":
		s.handleDeriveOrderAddress(rec, r, req)
	case "escrow_listEvents":
		s.handleListEvents(rec, r, req)
	case "token_getBalance":
		s.handleGetBalance(rec, r, req)
	case "token_holdingAddress":
		s.handleHoldingAddress(rec, r, req)
	default:
		method = "unknown"
		writeError(rec, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if rec, ok := w.(*statusRecorder); ok {
		rec.code = code
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

// decodeSingleParam unpacks the one positional object parameter of req.
func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected 1 parameter, got %d", len(req.Params))
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
