package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	ErrCodeAuthRequired = -32000
	ErrCodeAuthFailed   = -32001
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
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

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

// ParseRequest decodes and checks a JSON-RPC 2.0 request.
func ParseRequest(data []byte) (*Request, *RPCError) {
	if len(data) == 0 {
		return nil, NewRPCError(ErrCodeParseError, "empty request")
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewRPCErrorWithData(ErrCodeParseError, "invalid JSON", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return nil, NewRPCErrorWithData(ErrCodeInvalidRequest, "invalid JSON-RPC version",
			fmt.Sprintf("expected \"2.0\", got %q", req.JSONRPC))
	}
	if req.Method == "" {
		return nil, NewRPCError(ErrCodeInvalidRequest, "missing method name")
	}
	return &req, nil
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// RPCHandler runs one JSON-RPC method.
type RPCHandler interface {
	Handle(ctx context.Context, params json.RawMessage) (interface{}, error)
}

type RPCHandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

func (f RPCHandlerFunc) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return f(ctx, params)
}

// MethodRegistry maps method names to handlers. It is safe for
// concurrent use.
type MethodRegistry struct {
	mu       sync.RWMutex
	handlers map[string]RPCHandler
}

func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{handlers: make(map[string]RPCHandler)}
}

// Register adds or replaces the handler for method.
func (mr *MethodRegistry) Register(method string, handler RPCHandler) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.handlers[method] = handler
	log.WithFields(logger.Fields{
		"at":     "MethodRegistry.Register",
		"method": method,
	}).Debug("registered RPC method")
}

// Methods lists the registered method names in order.
func (mr *MethodRegistry) Methods() []string {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make([]string, 0, len(mr.handlers))
	for m := range mr.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs method. Handler errors that are not an *RPCError are
// reported as internal errors.
func (mr *MethodRegistry) Dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	mr.mu.RLock()
	handler, ok := mr.handlers[method]
	mr.mu.RUnlock()
	if !ok {
		log.WithFields(logger.Fields{
			"at":     "MethodRegistry.Dispatch",
			"method": method,
			"reason": "method_not_found",
		}).Warn("attempted to call unregistered method")
		return nil, NewRPCError(ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", method))
	}

	result, err := handler.Handle(ctx, params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		log.WithFields(logger.Fields{
			"at":     "MethodRegistry.Dispatch",
			"method": method,
		}).WithError(err).Error("method handler returned error")
		return nil, NewRPCErrorWithData(ErrCodeInternalError, "internal error", err.Error())
	}
	return result, nil
}

// HandleRequest runs a parsed request and builds its response. It
// returns nil for notifications.
func (mr *MethodRegistry) HandleRequest(ctx context.Context, req *Request) *Response {
	result, rpcErr := mr.Dispatch(ctx, req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}
