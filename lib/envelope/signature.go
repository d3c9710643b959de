package envelope

import (
	"github.com/go-i2p/go-msgrouter/lib/identity"
)

// Signature is an opaque signature produced by the sender's signing key.
type Signature []byte

// OptionalSignature is the two-state signature field of a Message.
// The zero value is absent.
type OptionalSignature struct {
	sig     Signature
	present bool
}

// SomeSignature returns a present signature.
func SomeSignature(sig Signature) OptionalSignature {
	return OptionalSignature{sig: sig, present: true}
}

// NoSignature returns the absent state.
func NoSignature() OptionalSignature {
	return OptionalSignature{}
}

// Get returns the signature and whether it is present.
func (o OptionalSignature) Get() (Signature, bool) {
	return o.sig, o.present
}

// Present reports whether a signature is attached.
func (o OptionalSignature) Present() bool {
	return o.present
}

// Signer produces signatures on behalf of a local identity. The key ring
// implements it.
type Signer interface {
	Sign(content []byte, signer identity.ExternalIdentity) (Signature, error)
}
