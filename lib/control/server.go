package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	DefaultListenAddr = "127.0.0.1:7681"
	DefaultTokenTTL   = 10 * time.Minute
	maxRequestSize    = 1 << 20
	cleanupInterval   = 5 * time.Minute
)

// Config controls a Server.
type Config struct {
	ListenAddr string
	Password   string
	TokenTTL   time.Duration
}

// Server is the HTTP front of a MethodRegistry.
type Server struct {
	cfg      Config
	auth     *AuthManager
	registry *MethodRegistry
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	ln net.Listener
}

// NewServer registers the diagnostic methods backed by r and s.
func NewServer(cfg Config, r RouterStats, s RelayStats) (*Server, error) {
	if r == nil || s == nil {
		return nil, oops.Errorf("control: router and relay store are required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	am, err := NewAuthManager(cfg.Password)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:      cfg,
		auth:     am,
		registry: NewMethodRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
	srv.registry.Register("Authenticate", srv.authenticateHandler())
	srv.registry.Register("Echo", echoHandler())
	srv.registry.Register("RouterStats", routerStatsHandler(r))
	srv.registry.Register("RelayStats", relayStatsHandler(s))
	srv.registry.Register("Pending", pendingHandler(s))
	srv.registry.Register("Protocols", protocolsHandler(r))

	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", srv.handleRPC)
	mux.HandleFunc("/", srv.handleRPC)
	srv.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv, nil
}

// Handler exposes the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens on cfg.ListenAddr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return oops.Wrapf(err, "control listen on %s", s.cfg.ListenAddr)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":      "Server.Start",
		"address": ln.Addr().String(),
	}).Info("Starting control server")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("at", "Server.Start").Error("control server error")
		}
	}()
	go s.cleanupTokens()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) cleanupTokens() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.auth.CleanupExpiredTokens()
		}
	}
}

// Close shuts the HTTP server down, waiting up to five seconds for
// requests in flight.
func (s *Server) Close() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.wg.Wait()
	log.WithField("at", "Server.Close").Info("control server stopped")
	return err
}

func (s *Server) authenticateHandler() RPCHandler {
	return RPCHandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			Password string `json:"Password"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		token, err := s.auth.Authenticate(req.Password, s.cfg.TokenTTL)
		if err != nil {
			return nil, NewRPCError(ErrCodeAuthFailed, err.Error())
		}
		return map[string]string{"Token": token}, nil
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeResponse(w, errorResponse(nil, NewRPCError(ErrCodeInvalidRequest, "Method must be POST")))
		return
	}
	ct := r.Header.Get("Content-Type")
	if ct != "application/json" && ct != "application/json; charset=utf-8" {
		s.writeResponse(w, errorResponse(nil, NewRPCError(ErrCodeInvalidRequest, "Content-Type must be application/json")))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		s.writeResponse(w, errorResponse(nil, NewRPCError(ErrCodeInternalError, "Failed to read request body")))
		return
	}
	req, rpcErr := ParseRequest(body)
	if rpcErr != nil {
		s.writeResponse(w, errorResponse(nil, rpcErr))
		return
	}
	if rpcErr := s.checkToken(req); rpcErr != nil {
		s.writeResponse(w, errorResponse(req.ID, rpcErr))
		return
	}

	resp := s.registry.HandleRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeResponse(w, resp)
}

func (s *Server) checkToken(req *Request) *RPCError {
	if req.Method == "Authenticate" {
		return nil
	}
	var params struct {
		Token string `json:"Token"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Token == "" {
		return NewRPCError(ErrCodeInvalidParams, "Missing or invalid Token parameter")
	}
	if !s.auth.ValidateToken(params.Token) {
		return NewRPCError(ErrCodeAuthRequired, "Invalid or expired authentication token")
	}
	return nil
}

func errorResponse(id interface{}, e *RPCError) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: e}
}

// writeResponse always answers 200, as JSON-RPC over HTTP expects.
func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).WithField("at", "Server.writeResponse").Error("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.WithError(err).WithField("at", "Server.writeResponse").Debug("Failed to write response")
	}
}
