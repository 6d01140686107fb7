// Package rpc provides the JSON-RPC 2.0 and WebSocket dispatcher for the
// klingsign daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Klingon-tech/klingsign/internal/balance"
	"github.com/Klingon-tech/klingsign/internal/keyring"
	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/internal/request"
	"github.com/Klingon-tech/klingsign/internal/signing"
	"github.com/Klingon-tech/klingsign/internal/submission"
	"github.com/Klingon-tech/klingsign/internal/subscription"
	"github.com/Klingon-tech/klingsign/internal/transaction"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// Version of the daemon
const Version = "0.1.0-dev"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Config holds the services the dispatcher exposes.
type Config struct {
	Requests      *request.Registry
	Subscriptions *subscription.Multiplexer
	Resolver      *balance.Resolver
	Builder       *transaction.Builder
	Submission    *submission.Service
	Signing       *signing.Coordinator
	Keys          *keyring.Keyring
	AutoLock      *keyring.AutoLock // optional
	Metrics       *metrics.Metrics

	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	// BalanceInterval is the poll interval of balances subscriptions.
	BalanceInterval time.Duration
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	requests   *request.Registry
	subs       *subscription.Multiplexer
	resolver   *balance.Resolver
	builder    *transaction.Builder
	submission *submission.Service
	signing    *signing.Coordinator
	keys       *keyring.Keyring
	autoLock   *keyring.AutoLock
	metrics    *metrics.Metrics
	log        *logging.Logger
	wsHub      *WSHub

	origins         map[string]bool
	balanceInterval time.Duration

	accounts *subscription.Subject[[]*keyring.Account]

	builtMu sync.Mutex
	built   map[string]*builtEntry

	baseCtx context.Context
	cancel  context.CancelFunc

	server   *http.Server
	listener net.Listener
}

// NewServer creates a new JSON-RPC server.
func NewServer(cfg Config) *Server {
	s := &Server{
		requests:        cfg.Requests,
		subs:            cfg.Subscriptions,
		resolver:        cfg.Resolver,
		builder:         cfg.Builder,
		submission:      cfg.Submission,
		signing:         cfg.Signing,
		keys:            cfg.Keys,
		autoLock:        cfg.AutoLock,
		metrics:         cfg.Metrics,
		log:             logging.GetDefault().Component("rpc"),
		wsHub:           NewWSHub(),
		balanceInterval: cfg.BalanceInterval,
		built:           make(map[string]*builtEntry),
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	if s.subs == nil {
		s.subs = subscription.NewMultiplexer(cfg.Metrics)
	}
	if len(cfg.AllowedOrigins) > 0 {
		s.origins = make(map[string]bool, len(cfg.AllowedOrigins))
		for _, o := range cfg.AllowedOrigins {
			s.origins[o] = true
		}
	}

	var initial []*keyring.Account
	if s.keys != nil {
		initial, _ = s.keys.Accounts()
	}
	s.accounts = subscription.NewSubject("accounts", initial)
	if s.keys != nil {
		s.keys.OnChange(s.accounts.Next)
	}
	return s
}

// Handler returns the HTTP handler serving JSON-RPC on POST / and
// WebSocket on GET /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	return corsMiddleware(mux)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go s.wsHub.Run()

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.cancel()
	s.wsHub.Stop()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ctx is the context of calls made over WebSocket. It ends at Stop.
func (s *Server) ctx() context.Context {
	return s.baseCtx
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, errorResponse(nil, ParseError, "Parse error"))
		return
	}
	s.writeResponse(w, s.call(r.Context(), nil, &req))
}

// call runs one request and builds its response. conn is nil for HTTP.
func (s *Server) call(ctx context.Context, conn *wsConn, req *Request) *Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, InvalidRequest, "Invalid Request")
	}

	msg, err := decodeMessage(req.Method, req.Params)
	if errors.Is(err, errUnknownMethod) {
		s.metrics.RPCCall(req.Method, "unknown")
		resp := errorResponse(req.ID, MethodNotFound, "Method not found")
		resp.Error.Data = req.Method
		return resp
	}
	if err == nil {
		if s.autoLock != nil {
			s.autoLock.Touch()
		}
		var result any
		result, err = s.dispatch(ctx, conn, msg)
		if err == nil {
			s.metrics.RPCCall(req.Method, "ok")
			return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
		}
	}

	s.metrics.RPCCall(req.Method, "error")
	rpcErr := toError(err)
	if rpcErr.Code == InternalError {
		s.log.Warn("RPC call failed", "method", req.Method, "error", err)
	} else {
		s.log.Debug("RPC call failed", "method", req.Method, "error", err)
	}
	return &Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
}

func errorResponse(id interface{}, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// writeResponse writes a response.
func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the UI runs as an Electron app or a browser extension
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
