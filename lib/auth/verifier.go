// Package auth checks that envelopes were produced by the identity they
// claim as their source.
package auth

import (
	"errors"
	"fmt"

	"github.com/go-i2p/crypto/types"
	"github.com/go-i2p/go-msgrouter/lib/crypto/mac"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidMac       = errors.New("invalid mac")
	// ErrUnknownIdentity is a signature failure: a source with no known key
	// cannot have produced a valid signature.
	ErrUnknownIdentity = fmt.Errorf("unknown identity: %w", ErrInvalidSignature)
)

// TrustLevel is the authentication outcome of a Message.
type TrustLevel uint8

const (
	Unauthenticated TrustLevel = iota
	Authenticated
)

func (t TrustLevel) String() string {
	switch t {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// KeyLookup resolves an identity to its signature verification key.
type KeyLookup interface {
	SigningPublicKey(id identity.ExternalIdentity) (types.SigningPublicKey, bool)
}

// RelayKeySource returns the MAC key for relay traffic from src to dst.
type RelayKeySource interface {
	RelayKey(src, dst identity.ExternalIdentity) ([]byte, error)
}

// Verifier authenticates envelopes. It holds no mutable state.
type Verifier struct {
	keys      KeyLookup
	relayKeys RelayKeySource
	mac       mac.Authenticator
}

// NewVerifier builds a verifier. A nil authenticator selects the default
// BLAKE2b MAC.
func NewVerifier(keys KeyLookup, relayKeys RelayKeySource, a mac.Authenticator) *Verifier {
	if a == nil {
		a = mac.NewAuthenticator()
	}
	return &Verifier{keys: keys, relayKeys: relayKeys, mac: a}
}

// Verify reports whether sig is a valid signature over content by claimed.
func (v *Verifier) Verify(content []byte, sig envelope.Signature, claimed identity.ExternalIdentity) bool {
	return v.verify(content, sig, claimed) == nil
}

func (v *Verifier) verify(content []byte, sig envelope.Signature, claimed identity.ExternalIdentity) error {
	pub, ok := v.keys.SigningPublicKey(claimed)
	if !ok {
		return oops.Wrapf(ErrUnknownIdentity, "source %s", claimed.Short())
	}
	verifier, err := pub.NewVerifier()
	if err != nil {
		return oops.Wrapf(ErrInvalidSignature, "key of %s: %v", claimed.Short(), err)
	}
	if err := verifier.Verify(content, sig); err != nil {
		return oops.Wrapf(ErrInvalidSignature, "source %s: %v", claimed.Short(), err)
	}
	return nil
}

// VerifyRelay checks the signature over the relay content by its source,
// then the MAC over the payload under the (src, dst) relay key.
func (v *Verifier) VerifyRelay(m envelope.RelayMessage) error {
	content, err := m.SignedBytes()
	if err != nil {
		return err
	}
	if err := v.verify(content, m.Signature(), m.Src()); err != nil {
		log.WithFields(logger.Fields{
			"at":  "Verifier.VerifyRelay",
			"src": m.Src().Short(),
			"dst": m.Dst().Short(),
		}).WithError(err).Debug("relay signature rejected")
		return err
	}

	key, err := v.relayKeys.RelayKey(m.Src(), m.Dst())
	if err != nil {
		return oops.Wrapf(ErrInvalidMac, "no relay key for %s -> %s: %v", m.Src().Short(), m.Dst().Short(), err)
	}
	if !v.mac.Verify(key, m.Payload(), m.MAC()) {
		log.WithFields(logger.Fields{
			"at":  "Verifier.VerifyRelay",
			"src": m.Src().Short(),
			"dst": m.Dst().Short(),
		}).Debug("relay mac rejected")
		return oops.Wrapf(ErrInvalidMac, "%s -> %s", m.Src().Short(), m.Dst().Short())
	}
	return nil
}

// VerifyMessage returns Unauthenticated for an unsigned message and
// Authenticated for a valid signature. A present but invalid signature is
// an error, never a downgrade.
func (v *Verifier) VerifyMessage(m envelope.Message) (TrustLevel, error) {
	sig, ok := m.Signature().Get()
	if !ok {
		return Unauthenticated, nil
	}
	content, err := m.SignedBytes()
	if err != nil {
		return Unauthenticated, err
	}
	if err := v.verify(content, sig, m.Src()); err != nil {
		log.WithFields(logger.Fields{
			"at":       "Verifier.VerifyMessage",
			"src":      m.Src().Short(),
			"protocol": m.Protocol().String(),
		}).WithError(err).Debug("message signature rejected")
		return Unauthenticated, err
	}
	return Authenticated, nil
}
