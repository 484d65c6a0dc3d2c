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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"salechain/core"
	"salechain/core/events"
	"salechain/indexer"
	"salechain/observability"
)

const (
	maxRequestBytes = 1 << 20 // 1 MiB
	txSeenTTL       = 15 * time.Minute
	limiterIdleTTL  = 10 * time.Minute
)

// PurchaseIndex serves sale_listPurchases.
type PurchaseIndex interface {
	ListPurchases(ctx context.Context, buyer string, limit int) ([]indexer.Purchase, error)
	Totals(ctx context.Context) (*indexer.Totals, error)
}

// ServerConfig tunes the JSON-RPC server.
type ServerConfig struct {
	// AuthToken, when set, is required as a bearer token on tx_send.
	AuthToken string
	JWT       JWTConfig
	// RateLimit is the sustained requests per second allowed per source.
	// Zero disables limiting.
	RateLimit    float64
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
	// Events backs GET /ws. Nil disables the stream.
	Events *events.Broker
	// AllowedOrigins are websocket origin patterns; empty allows any.
	AllowedOrigins []string
}

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server exposes the node over JSON-RPC 2.0.
type Server struct {
	node      *core.Node
	purchases PurchaseIndex
	cfg       ServerConfig
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	txSeen   map[string]time.Time
	limiters map[string]*sourceLimiter

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer builds a server over node. purchases may be nil, in which case
// sale_listPurchases reports that no index is configured.
func NewServer(node *core.Node, purchases PurchaseIndex, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Server{
		node:      node,
		purchases: purchases,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		txSeen:    make(map[string]time.Time),
		limiters:  make(map[string]*sourceLimiter),
	}
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/", s.handle)
	r.Get("/ws", s.handleEventsWS)
	return otelhttp.NewHandler(r, "rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("JSON-RPC server listening", "addr", listener.Addr().String(), "auth", s.cfg.AuthToken != "" || s.cfg.JWT.Enable, "events", s.cfg.Events != nil)
	return srv.Serve(listener)
}

// Start listens on addr and serves.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// metricsWriter remembers the JSON-RPC error code written for a request.
type metricsWriter struct {
	http.ResponseWriter
	code int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if mw, ok := w.(*metricsWriter); ok {
		mw.code = code
	}
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

func writeRPCError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "failed to encode result", err.Error())
		return
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: raw}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w := &metricsWriter{ResponseWriter: rw}
	method := ""
	defer func() {
		observability.ModuleMetrics().Observe(moduleOf(method), method, w.code, time.Since(start))
	}()

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)

	source := s.clientSource(r)
	if !s.allowSource(source) {
		observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", source)
		return
	}

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
	s.logger.Debug("rpc request", "method", req.Method, "source", source, "requestId", requestID)

	switch req.Method {
	case "sale_getConfig":
		s.handleGetConfig(w, r, req)
	case "sale_quote":
		s.handleQuote(w, r, req)
	case "sale_getAuthority":
		s.handleGetAuthority(w, r, req)
	case "sale_listPurchases":
		s.handleListPurchases(w, r, req)
	case "account_get":
		s.handleGetAccount(w, r, req)
	case "token_getBalance":
		s.handleGetTokenBalance(w, r, req)
	case "tx_send":
		if authErr := s.requireAuth(r); authErr != nil {
			writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
			return
		}
		s.handleSendTransaction(w, r, req)
	case "tx_simulate":
		s.handleSimulateTransaction(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// moduleOf returns the namespace of a method name, e.g. "sale" for
// "sale_quote".
func moduleOf(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return method
}

func (s *Server) allowSource(source string) bool {
	if s.cfg.RateLimit <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}
	entry, ok := s.limiters[source]
	if !ok {
		entry = &sourceLimiter{limiter: rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)}
		s.limiters[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Server) rememberTx(hash string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, seenAt := range s.txSeen {
		if now.Sub(seenAt) > txSeenTTL {
			delete(s.txSeen, h)
		}
	}
	if _, exists := s.txSeen[hash]; exists {
		return false
	}
	s.txSeen[hash] = now
	return true
}

func (s *Server) forgetTx(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txSeen, hash)
}

// clientSource identifies the caller by its remote address. Forwarding
// headers are client controlled and therefore ignored.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
