package router

import (
	"context"
	"sort"
	"sync"

	"github.com/go-i2p/go-msgrouter/lib/auth"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
)

// Delivery is what a protocol handler receives for an accepted message.
type Delivery struct {
	Src      identity.ExternalIdentity
	Dst      identity.ExternalIdentity
	Protocol envelope.Protocol
	Expiry   uint32
	Body     []byte
	Trust    auth.TrustLevel
}

// Handler consumes messages of one protocol. Handle runs on its own
// goroutine; ctx is cancelled when the router closes.
type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// HandlerOption adjusts a registration.
type HandlerOption func(*route)

// AcceptUnauthenticated lets the handler receive unsigned messages.
// Without it an unsigned message is rejected as Unauthenticated.
func AcceptUnauthenticated() HandlerOption {
	return func(r *route) { r.acceptUnauthenticated = true }
}

type route struct {
	handler               Handler
	acceptUnauthenticated bool
}

type routeKey struct {
	protocol envelope.Protocol
	dst      identity.ExternalIdentity
}

// Registry maps protocols to handlers. A handler registered for a specific
// destination takes precedence over one registered for any destination.
// Safe for concurrent registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	specific map[routeKey]route
	any      map[envelope.Protocol]route
}

func NewRegistry() *Registry {
	return &Registry{
		specific: make(map[routeKey]route),
		any:      make(map[envelope.Protocol]route),
	}
}

func newRoute(h Handler, opts []HandlerOption) route {
	r := route{handler: h}
	for _, o := range opts {
		o(&r)
	}
	return r
}

// Register sets the handler for protocol p addressed to any destination,
// replacing a previous one.
func (reg *Registry) Register(p envelope.Protocol, h Handler, opts ...HandlerOption) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.any[p] = newRoute(h, opts)

	log.WithFields(map[string]interface{}{
		"at":       "Registry.Register",
		"protocol": p.String(),
	}).Debug("registered protocol handler")
}

// RegisterFor sets the handler for protocol p addressed to dst.
func (reg *Registry) RegisterFor(p envelope.Protocol, dst identity.ExternalIdentity, h Handler, opts ...HandlerOption) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.specific[routeKey{protocol: p, dst: dst}] = newRoute(h, opts)

	log.WithFields(map[string]interface{}{
		"at":       "Registry.RegisterFor",
		"protocol": p.String(),
		"dst":      dst.Short(),
	}).Debug("registered protocol handler")
}

// Unregister removes the any-destination handler for p.
func (reg *Registry) Unregister(p envelope.Protocol) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.any, p)
}

// UnregisterFor removes the handler for p addressed to dst.
func (reg *Registry) UnregisterFor(p envelope.Protocol, dst identity.ExternalIdentity) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.specific, routeKey{protocol: p, dst: dst})
}

func (reg *Registry) lookup(p envelope.Protocol, dst identity.ExternalIdentity) (route, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if r, ok := reg.specific[routeKey{protocol: p, dst: dst}]; ok {
		return r, true
	}
	r, ok := reg.any[p]
	return r, ok
}

// Protocols lists every protocol with at least one handler, sorted.
func (reg *Registry) Protocols() []envelope.Protocol {
	reg.mu.RLock()
	seen := make(map[envelope.Protocol]struct{}, len(reg.any)+len(reg.specific))
	for p := range reg.any {
		seen[p] = struct{}{}
	}
	for k := range reg.specific {
		seen[k.protocol] = struct{}{}
	}
	reg.mu.RUnlock()

	out := make([]envelope.Protocol, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Version < out[j].Version
	})
	return out
}
