package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-msgrouter/lib/auth"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Authenticator is the verification the router needs. *auth.Verifier
// implements it.
type Authenticator interface {
	VerifyRelay(m envelope.RelayMessage) error
	VerifyMessage(m envelope.Message) (auth.TrustLevel, error)
}

// RelayQueue accepts authenticated relay envelopes. *relay.Store implements
// it.
type RelayQueue interface {
	Enqueue(m envelope.RelayMessage) error
}

// Router classifies, authenticates and routes inbound envelopes. Apart from
// its counters it keeps no state between calls.
type Router struct {
	auth     Authenticator
	queue    RelayQueue
	registry *Registry
	expiry   *ExpirationValidator

	ctx    context.Context
	cancel context.CancelFunc

	// runMux guards closed against handler launches so Close can wait for
	// every in-flight handler.
	runMux   sync.RWMutex
	closed   bool
	handlers sync.WaitGroup

	received      atomic.Uint64
	queued        atomic.Uint64
	dispatched    atomic.Uint64
	rejected      atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
	byReason      [numReasons]atomic.Uint64
}

// New builds a router. A nil registry starts empty and a nil expiry
// validator checks against a fresh monotonic.Clock with zero tolerance.
// Without an authenticator every envelope is rejected, and without a queue
// every relay envelope is, with ErrNotConfigured.
func New(a Authenticator, q RelayQueue, reg *Registry, expiry *ExpirationValidator) *Router {
	if reg == nil {
		reg = NewRegistry()
	}
	if expiry == nil {
		expiry = NewExpirationValidator(monotonic.NewClock())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		auth:     a,
		queue:    q,
		registry: reg,
		expiry:   expiry,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the handler registry consulted for messages.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Submit runs raw through the pipeline. A rejected envelope is returned
// with State Rejected, its Reason, and the error that caused it.
func (r *Router) Submit(raw []byte) (Result, error) {
	r.received.Add(1)
	res := Result{State: Received}

	e, err := envelope.Decode(raw)
	if err != nil {
		return r.reject(res, err)
	}
	res.State = Decoded
	res.Kind = e.Kind()
	res.Src = e.Src()
	res.Dst = e.Dst()

	if err := r.expiry.ValidateEnvelope(e); err != nil {
		return r.reject(res, err)
	}

	switch m := e.(type) {
	case envelope.RelayMessage:
		return r.routeRelay(res, m)
	case envelope.Message:
		return r.routeMessage(res, m)
	default:
		return r.reject(res, oops.Wrapf(envelope.ErrUnknownKind, "unhandled envelope type %T", e))
	}
}

func (r *Router) routeRelay(res Result, m envelope.RelayMessage) (Result, error) {
	if r.auth == nil || r.queue == nil {
		return r.reject(res, oops.Wrapf(ErrNotConfigured, "relay envelope for %s", res.Dst.Short()))
	}
	if err := r.auth.VerifyRelay(m); err != nil {
		return r.reject(res, err)
	}
	res.State = Authenticated
	res.Trust = auth.Authenticated

	if err := r.queue.Enqueue(m); err != nil {
		return r.reject(res, err)
	}
	res.State = Queued
	r.queued.Add(1)
	log.WithFields(logger.Fields{
		"at":     "Router.routeRelay",
		"src":    res.Src.Short(),
		"dst":    res.Dst.Short(),
		"expiry": m.Expiry(),
	}).Debug("relay envelope queued")
	return res, nil
}

func (r *Router) routeMessage(res Result, m envelope.Message) (Result, error) {
	res.Protocol = m.Protocol()
	if r.auth == nil {
		return r.reject(res, oops.Wrapf(ErrNotConfigured, "message for %s", res.Dst.Short()))
	}

	trust, err := r.auth.VerifyMessage(m)
	if err != nil {
		return r.reject(res, err)
	}
	res.State = Authenticated
	res.Trust = trust

	rt, ok := r.registry.lookup(m.Protocol(), m.Dst())
	if !ok {
		return r.reject(res, oops.Wrapf(ErrUnknownProtocol, "%s for %s", m.Protocol(), m.Dst().Short()))
	}
	if trust != auth.Authenticated && !rt.acceptUnauthenticated {
		return r.reject(res, oops.Wrapf(ErrUnauthenticated, "%s from %s", m.Protocol(), m.Src().Short()))
	}

	d := Delivery{
		Src:      m.Src(),
		Dst:      m.Dst(),
		Protocol: m.Protocol(),
		Expiry:   m.Expiry(),
		Body:     m.Body(),
		Trust:    trust,
	}
	if err := r.dispatch(rt.handler, d); err != nil {
		return r.reject(res, err)
	}
	res.State = Dispatched
	r.dispatched.Add(1)
	log.WithFields(logger.Fields{
		"at":       "Router.routeMessage",
		"src":      res.Src.Short(),
		"dst":      res.Dst.Short(),
		"protocol": res.Protocol.String(),
		"trust":    trust.String(),
	}).Debug("message dispatched")
	return res, nil
}

// dispatch starts h on its own goroutine and returns without waiting.
func (r *Router) dispatch(h Handler, d Delivery) error {
	r.runMux.RLock()
	defer r.runMux.RUnlock()
	if r.closed {
		return ErrClosed
	}
	r.handlers.Add(1)
	go r.runHandler(h, d)
	return nil
}

func (r *Router) runHandler(h Handler, d Delivery) {
	defer r.handlers.Done()
	defer func() {
		if p := recover(); p != nil {
			r.handlerPanics.Add(1)
			log.WithFields(logger.Fields{
				"at":       "Router.runHandler",
				"protocol": d.Protocol.String(),
				"src":      d.Src.Short(),
				"panic":    fmt.Sprint(p),
			}).Error("protocol handler panicked")
		}
	}()
	if err := h.Handle(r.ctx, d); err != nil {
		r.handlerErrors.Add(1)
		log.WithFields(logger.Fields{
			"at":       "Router.runHandler",
			"protocol": d.Protocol.String(),
			"src":      d.Src.Short(),
		}).WithError(err).Warn("protocol handler failed")
	}
}

func (r *Router) reject(res Result, err error) (Result, error) {
	res.State = Rejected
	res.Reason = classify(err)
	r.rejected.Add(1)
	r.byReason[res.Reason].Add(1)

	entry := log.WithFields(logger.Fields{
		"at":     "Router.Submit",
		"kind":   res.Kind.String(),
		"src":    res.Src.Short(),
		"dst":    res.Dst.Short(),
		"reason": res.Reason.String(),
	}).WithError(err)
	if res.Reason == ReasonInternal {
		entry.Error("envelope rejected")
	} else {
		entry.Warn("envelope rejected")
	}
	return res, err
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	s := Stats{
		Received:      r.received.Load(),
		Queued:        r.queued.Load(),
		Dispatched:    r.dispatched.Load(),
		Rejected:      r.rejected.Load(),
		HandlerErrors: r.handlerErrors.Load(),
		HandlerPanics: r.handlerPanics.Load(),
		ByReason:      make(map[Reason]uint64),
	}
	for i := range r.byReason {
		if n := r.byReason[i].Load(); n > 0 {
			s.ByReason[Reason(i)] = n
		}
	}
	return s
}

// Close cancels the context of in-flight handlers and waits for them to
// return. Later messages are rejected as Closed. Close is idempotent.
func (r *Router) Close() error {
	r.runMux.Lock()
	if r.closed {
		r.runMux.Unlock()
		return nil
	}
	r.closed = true
	r.runMux.Unlock()

	log.WithField("at", "Router.Close").Debug("closing router")
	r.cancel()
	r.handlers.Wait()
	return nil
}
