package control

import (
	"context"
	"encoding/json"

	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/relay"
	"github.com/go-i2p/go-msgrouter/lib/router"
)

// RouterStats is what the control endpoint reads from the router.
type RouterStats interface {
	Stats() router.Stats
	Registry() *router.Registry
}

// RelayStats is what the control endpoint reads from the relay store.
type RelayStats interface {
	Stats() relay.Stats
	Pending(dst identity.ExternalIdentity) int
}

type routerStatsResult struct {
	Received      uint64            `json:"received"`
	Queued        uint64            `json:"queued"`
	Dispatched    uint64            `json:"dispatched"`
	Rejected      uint64            `json:"rejected"`
	HandlerErrors uint64            `json:"handler_errors"`
	HandlerPanics uint64            `json:"handler_panics"`
	ByReason      map[string]uint64 `json:"by_reason"`
}

type relayStatsResult struct {
	Messages     int    `json:"messages"`
	Bytes        int64  `json:"bytes"`
	Destinations int    `json:"destinations"`
	Enqueued     uint64 `json:"enqueued"`
	Delivered    uint64 `json:"delivered"`
	Expired      uint64 `json:"expired"`
	Rejected     uint64 `json:"rejected"`
	Requeued     uint64 `json:"requeued"`
}

func decodeParams(params json.RawMessage, v interface{}) *RPCError {
	if len(params) == 0 {
		return NewRPCError(ErrCodeInvalidParams, "missing parameters")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewRPCErrorWithData(ErrCodeInvalidParams, "invalid parameters", err.Error())
	}
	return nil
}

func echoHandler() RPCHandler {
	return RPCHandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			Echo string `json:"Echo"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return map[string]string{"Result": req.Echo}, nil
	})
}

func routerStatsHandler(r RouterStats) RPCHandler {
	return RPCHandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		s := r.Stats()
		out := routerStatsResult{
			Received:      s.Received,
			Queued:        s.Queued,
			Dispatched:    s.Dispatched,
			Rejected:      s.Rejected,
			HandlerErrors: s.HandlerErrors,
			HandlerPanics: s.HandlerPanics,
			ByReason:      make(map[string]uint64, len(s.ByReason)),
		}
		for reason, n := range s.ByReason {
			out.ByReason[reason.String()] = n
		}
		return out, nil
	})
}

func relayStatsHandler(s RelayStats) RPCHandler {
	return RPCHandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		st := s.Stats()
		return relayStatsResult{
			Messages:     st.Messages,
			Bytes:        st.Bytes,
			Destinations: st.Destinations,
			Enqueued:     st.Enqueued,
			Delivered:    st.Delivered,
			Expired:      st.Expired,
			Rejected:     st.Rejected,
			Requeued:     st.Requeued,
		}, nil
	})
}

func pendingHandler(s RelayStats) RPCHandler {
	return RPCHandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			Identity string `json:"Identity"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		id, err := identity.Parse(req.Identity)
		if err != nil {
			return nil, NewRPCErrorWithData(ErrCodeInvalidParams, "invalid identity", err.Error())
		}
		return map[string]int{"Pending": s.Pending(id)}, nil
	})
}

func protocolsHandler(r RouterStats) RPCHandler {
	return RPCHandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		protos := r.Registry().Protocols()
		out := make([]string, len(protos))
		for i, p := range protos {
			out[i] = p.String()
		}
		return map[string][]string{"Protocols": out}, nil
	})
}

