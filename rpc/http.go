package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowd/core"
	"escrowd/native/arbiter"
	"escrowd/native/escrow"
	"escrowd/native/fees"
	"escrowd/native/reputation"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001

	codeNotFound          = -32022
	codeForbidden         = -32023
	codeConflict          = -32024
	codeInvalidState      = -32026
	codeInsufficientFunds = -32027
)

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Server exposes the node's operation surface over JSON-RPC. Mutating methods
// require a bearer token whose subject is the authenticated caller address;
// queries are open.
type Server struct {
	node       *core.Node
	log        *slog.Logger
	authSecret []byte
}

// NewServer constructs an RPC server for the node. The auth secret signs the
// HS256 bearer tokens accepted on mutating methods.
func NewServer(node *core.Node, authSecret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, log: logger, authSecret: authSecret}
}

// Router returns the HTTP handler serving the RPC endpoint, health check and
// metrics.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves the RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, nil, codeParseError, "unable to read request body")
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		writeError(w, req.ID, codeInvalidRequest, "invalid JSON-RPC request")
		return
	}
	s.dispatch(w, r, &req)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *request) {
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method))
		return
	}
	var caller [20]byte
	if handler.requireAuth {
		identity, err := s.authenticate(r)
		if err != nil {
			observeOperation(req.Method, "unauthorized")
			writeError(w, req.ID, codeUnauthorized, err.Error())
			return
		}
		caller = identity
	}
	result, err := handler.fn(caller, req.Params)
	if err != nil {
		code, message := mapError(err)
		observeOperation(req.Method, "error")
		s.log.Warn("rpc operation failed", "method", req.Method, "err", err)
		writeError(w, req.ID, code, message)
		return
	}
	observeOperation(req.Method, "ok")
	writeResult(w, req.ID, result)
}

type methodHandler struct {
	requireAuth bool
	fn          func(caller [20]byte, params []json.RawMessage) (interface{}, error)
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"config_initialize":     {true, s.handleConfigInitialize},
		"config_get":            {false, s.handleConfigGet},
		"fees_withdraw":         {true, s.handleFeesWithdraw},
		"arbiter_add":           {true, s.handleArbiterAdd},
		"arbiter_remove":        {true, s.handleArbiterRemove},
		"arbiter_get":           {false, s.handleArbiterGet},
		"reputation_initialize": {true, s.handleReputationInitialize},
		"reputation_update":     {true, s.handleReputationUpdate},
		"reputation_get":        {false, s.handleReputationGet},
		"escrow_create":         {true, s.handleEscrowCreate},
		"escrow_release":        {true, s.handleEscrowRelease},
		"escrow_cancel":         {true, s.handleEscrowCancel},
		"escrow_dispute":        {true, s.handleEscrowDispute},
		"escrow_refundBuyer":    {true, s.handleEscrowRefundBuyer},
		"escrow_resolve":        {true, s.handleEscrowResolve},
		"escrow_get":            {false, s.handleEscrowGet},
		"account_get":           {false, s.handleAccountGet},
	}
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, arbiter.ErrArbiterNotFound),
		errors.Is(err, reputation.ErrNotInitialized),
		errors.Is(err, fees.ErrNotInitialized):
		return codeNotFound, err.Error()
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, arbiter.ErrUnauthorized),
		errors.Is(err, arbiter.ErrArbiterInactive),
		errors.Is(err, fees.ErrUnauthorized):
		return codeForbidden, err.Error()
	case errors.Is(err, escrow.ErrAlreadyExists),
		errors.Is(err, arbiter.ErrArbiterExists),
		errors.Is(err, reputation.ErrAlreadyInitialized),
		errors.Is(err, fees.ErrAlreadyInitialized):
		return codeConflict, err.Error()
	case errors.Is(err, escrow.ErrInvalidState):
		return codeInvalidState, err.Error()
	case errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, fees.ErrInsufficientFunds):
		return codeInsufficientFunds, err.Error()
	case errors.Is(err, errBadParams),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidParties),
		errors.Is(err, escrow.ErrInvalidDecision),
		errors.Is(err, fees.ErrFeeTooHigh):
		return codeInvalidParams, err.Error()
	default:
		return codeServerError, err.Error()
	}
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	writeResponse(w, response{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeResponse(w, response{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}})
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
