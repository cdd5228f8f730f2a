// Package server exposes imported models over JSON-RPC 2.0.
//
// Requests are accepted as HTTP POSTs on /jsonrpc and as messages on the
// /websocket endpoint. Websocket clients also receive notifications when
// models are imported or deleted.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gcode-import/pkg/errors"
	"gcode-import/pkg/gcode"
	"gcode-import/pkg/log"
	"gcode-import/pkg/metrics"
	"gcode-import/pkg/model"
	"gcode-import/pkg/store"
)

// Version is reported by server.info.
const Version = "0.3.0"

// maxRequestSize bounds a request body or websocket message. Inline G-code
// travels in requests, so it is far above typical RPC sizes.
const maxRequestSize = 16 << 20

// ModelStore is the persistence the server needs. *store.Store implements it.
type ModelStore interface {
	Save(ctx context.Context, doc *model.Document, source string) (*store.Summary, error)
	Summary(ctx context.Context, id string) (*store.Summary, error)
	List(ctx context.Context) ([]*store.Summary, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	Layer(ctx context.Context, id string, index int) (model.Layer, error)
	Delete(ctx context.Context, id string) error
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":7126".
	Addr string

	// Store persists imported models. Required.
	Store ModelStore

	// Options configures imports.
	Options gcode.Options

	// GCodeDir is the directory model.import paths are resolved against.
	// Path imports are refused when empty.
	GCodeDir string

	// Logger defaults to the "server" component logger.
	Logger *log.Logger

	// Metrics is served on /metrics. A fresh set is created when nil.
	Metrics *metrics.ImportMetrics
}

// Server serves the JSON-RPC API.
type Server struct {
	store    ModelStore
	importer *gcode.Importer
	gcodeDir string
	log      *log.Logger
	metrics  *metrics.ImportMetrics

	httpServer *http.Server
	addr       string

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   atomic.Int64

	running   atomic.Bool
	startTime time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		gcodeDir:  cfg.GCodeDir,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		addr:      cfg.Addr,
		wsClients: make(map[int64]*WSClient),
		startTime: time.Now(),
	}
	if s.log == nil {
		s.log = log.GetLogger("server")
	}
	if s.metrics == nil {
		s.metrics = metrics.NewImportMetrics()
	}
	opts := cfg.Options
	if opts.Logger == nil {
		opts.Logger = s.log.WithPrefix("gcode")
	}
	s.importer = gcode.NewImporter(opts)
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/server/models", s.handleModelList)
	mux.Handle("/metrics", s.metrics.Handler())
	return s.corsMiddleware(mux)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running.Store(true)
	s.log.WithField("addr", s.addr).Info("server starting")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes all websocket clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.metrics.Clients.Set(nil, 0)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method,omitempty"`
	Params  any           `json:"params,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return e.Message
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32004
)

func invalidParams(msg string) *jsonRPCError {
	return &jsonRPCError{Code: codeInvalidParams, Message: msg}
}

// rpcError maps a method failure to a JSON-RPC error.
func rpcError(err error) *jsonRPCError {
	if e, ok := err.(*jsonRPCError); ok {
		return e
	}
	if errors.IsNotFound(err) {
		return &jsonRPCError{Code: codeNotFound, Message: err.Error()}
	}
	return &jsonRPCError{Code: codeServerError, Message: err.Error()}
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		s.writeJSONRPC(w, jsonRPCResponse{Error: &jsonRPCError{Code: codeParseError, Message: "Parse error"}})
		return
	}
	s.writeJSONRPC(w, s.call(r.Context(), req))
}

// call runs one request and builds its response. A panicking method
// becomes a server error.
func (s *Server) call(ctx context.Context, req jsonRPCRequest) (resp jsonRPCResponse) {
	resp.ID = req.ID
	defer func() {
		if he := errors.FromPanic(recover()); he != nil {
			s.log.WithFields(log.Fields{"method": req.Method, "error": he.Error()}).Error("method panicked")
			resp.Result = nil
			resp.Error = rpcError(he)
		}
		method := req.Method
		if resp.Error != nil && resp.Error.Code == codeMethodNotFound {
			method = "unknown"
		}
		s.metrics.ObserveRPC(method, resp.Error != nil)
	}()

	result, err := s.dispatchMethod(ctx, req.Method, req.Params)
	if err != nil {
		resp.Error = rpcError(err)
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) dispatchMethod(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo(), nil
	case "model.import":
		return s.methodImport(ctx, params)
	case "model.list":
		return s.methodList(ctx)
	case "model.get":
		return s.methodGet(ctx, params)
	case "model.layer":
		return s.methodLayer(ctx, params)
	case "model.delete":
		return s.methodDelete(ctx, params)
	default:
		return nil, &jsonRPCError{Code: codeMethodNotFound, Message: "method not found: " + method}
	}
}

// REST endpoint handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"result": s.methodServerInfo()})
}

func (s *Server) handleModelList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.methodList(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": rpcError(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("write response failed")
	}
}

func (s *Server) writeJSONRPC(w http.ResponseWriter, resp jsonRPCResponse) {
	resp.JSONRPC = "2.0"
	s.writeJSON(w, http.StatusOK, resp)
}

// notify sends a notification to every connected websocket client.
func (s *Server) notify(method string, params ...any) {
	msg := jsonRPCResponse{JSONRPC: "2.0", Method: method, Params: params}

	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.Send(msg)
	}
}

// Metrics returns the server's metric set.
func (s *Server) Metrics() *metrics.ImportMetrics {
	return s.metrics
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	return len(s.wsClients)
}
