package router

import (
	"errors"

	"github.com/go-i2p/go-msgrouter/lib/auth"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/relay"
)

// State is where an envelope ended up.
type State uint8

const (
	Received State = iota
	Decoded
	Authenticated
	Queued
	Dispatched
	Rejected
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Decoded:
		return "decoded"
	case Authenticated:
		return "authenticated"
	case Queued:
		return "queued"
	case Dispatched:
		return "dispatched"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Reason classifies a rejection. The numeric values are stable and are
// sent as the status byte by the TCP transport.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonMalformed
	ReasonUnsupportedVersion
	ReasonMissingSignature
	ReasonInvalidSignature
	ReasonInvalidMac
	ReasonUnknownIdentity
	ReasonExpired
	ReasonUnknownProtocol
	ReasonUnauthenticated
	ReasonStoreFull
	ReasonClosed
	ReasonInternal

	numReasons
)

var reasonNames = [numReasons]string{
	ReasonNone:               "none",
	ReasonMalformed:          "malformed",
	ReasonUnsupportedVersion: "unsupported_version",
	ReasonMissingSignature:   "missing_signature",
	ReasonInvalidSignature:   "invalid_signature",
	ReasonInvalidMac:         "invalid_mac",
	ReasonUnknownIdentity:    "unknown_identity",
	ReasonExpired:            "expired",
	ReasonUnknownProtocol:    "unknown_protocol",
	ReasonUnauthenticated:    "unauthenticated",
	ReasonStoreFull:          "store_full",
	ReasonClosed:             "closed",
	ReasonInternal:           "internal",
}

func (r Reason) String() string {
	if r < numReasons {
		return reasonNames[r]
	}
	return "unknown"
}

var (
	ErrUnknownProtocol = errors.New("no handler for protocol")
	ErrUnauthenticated = errors.New("handler requires an authenticated message")
	ErrClosed          = errors.New("router closed")
	// ErrNotConfigured is returned when a router built without an
	// authenticator or relay queue is asked to use one.
	ErrNotConfigured = errors.New("router component not configured")
)

// classify maps an error from any pipeline step to its Reason.
func classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, envelope.ErrUnsupportedVersion):
		return ReasonUnsupportedVersion
	case errors.Is(err, envelope.ErrMissingSignature):
		return ReasonMissingSignature
	case errors.Is(err, envelope.ErrUnknownKind),
		errors.Is(err, envelope.ErrTruncatedInput),
		errors.Is(err, envelope.ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, auth.ErrUnknownIdentity):
		return ReasonUnknownIdentity
	case errors.Is(err, auth.ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, auth.ErrInvalidMac):
		return ReasonInvalidMac
	case errors.Is(err, ErrUnknownProtocol):
		return ReasonUnknownProtocol
	case errors.Is(err, ErrUnauthenticated):
		return ReasonUnauthenticated
	case errors.Is(err, relay.ErrStoreFull):
		return ReasonStoreFull
	case errors.Is(err, ErrClosed):
		return ReasonClosed
	default:
		return ReasonInternal
	}
}

// Result describes the outcome of one Submit.
type Result struct {
	State    State
	Kind     envelope.Kind
	Trust    auth.TrustLevel
	Src      identity.ExternalIdentity
	Dst      identity.ExternalIdentity
	Protocol envelope.Protocol
	Reason   Reason
}

// Stats are cumulative counters since the router was created.
type Stats struct {
	Received      uint64
	Queued        uint64
	Dispatched    uint64
	Rejected      uint64
	HandlerErrors uint64
	HandlerPanics uint64
	ByReason      map[Reason]uint64
}
