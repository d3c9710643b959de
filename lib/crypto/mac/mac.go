// Package mac authenticates relay payloads. Tags are keyed BLAKE2b-256
// digests of the ciphertext; keys are derived per (src, dst) pair from a
// shared secret with HKDF-SHA256.
package mac

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length of a derived relay MAC key.
	KeySize = 32
	// TagSize is the length of a tag produced by Blake2bAuthenticator.
	TagSize = blake2b.Size256
)

// relayKeyInfo separates relay MAC keys from any other HKDF use of the
// same secret.
const relayKeyInfo = "go-msgrouter relay mac v0"

var (
	ErrBadKeySize  = errors.New("mac key size out of range")
	ErrEmptySecret = errors.New("relay secret is empty")
)

// Authenticator computes and checks MAC tags.
type Authenticator interface {
	// Sum returns the tag of msg under key.
	Sum(key, msg []byte) ([]byte, error)
	// Verify reports whether tag authenticates msg under key. The comparison
	// is constant time.
	Verify(key, msg, tag []byte) bool
}

// Blake2bAuthenticator is the default Authenticator.
type Blake2bAuthenticator struct{}

// NewAuthenticator returns the default Authenticator.
func NewAuthenticator() Authenticator {
	return Blake2bAuthenticator{}
}

func (Blake2bAuthenticator) Sum(key, msg []byte) ([]byte, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, oops.Wrapf(ErrBadKeySize, "got %d bytes", len(key))
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, oops.Wrapf(err, "blake2b init")
	}
	h.Write(msg)
	return h.Sum(nil), nil
}

func (a Blake2bAuthenticator) Verify(key, msg, tag []byte) bool {
	expected, err := a.Sum(key, msg)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, tag) == 1
}

// DeriveRelayKey expands secret into the MAC key for messages relayed from
// src to dst. Direction matters: the key for (a, b) differs from (b, a).
func DeriveRelayKey(secret, src, dst []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	info := make([]byte, 0, len(relayKeyInfo)+len(src)+len(dst))
	info = append(info, relayKeyInfo...)
	info = append(info, src...)
	info = append(info, dst...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, oops.Wrapf(err, "hkdf expand")
	}
	return key, nil
}
