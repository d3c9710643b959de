// Package identity defines ExternalIdentity, the opaque address of a peer
// outside this node. Identities are used as both source and destination of
// every envelope the router handles.
package identity

import (
	"encoding/hex"
	"strings"

	"github.com/go-i2p/common/base32"
	common "github.com/go-i2p/common/data"
	"github.com/samber/oops"
)

// Size is the byte length of an ExternalIdentity on the wire.
const Size = 32

// ExternalIdentity is a globally unique, immutable peer identifier.
// It is an array so that equality and map hashing are byte-wise.
type ExternalIdentity [Size]byte

// Zero is the unset identity.
var Zero ExternalIdentity

// FromSigningKey derives the identity of a peer from the bytes of its
// signing public key.
func FromSigningKey(pub []byte) ExternalIdentity {
	return ExternalIdentity(common.HashData(pub))
}

// FromBytes copies b into an identity. b must be exactly Size bytes.
func FromBytes(b []byte) (ExternalIdentity, error) {
	var id ExternalIdentity
	if len(b) != Size {
		return id, oops.Errorf("identity must be %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse accepts either the base32 form produced by String or 64 hex digits.
func Parse(s string) (ExternalIdentity, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".b32")
	if len(s) == hex.EncodedLen(Size) {
		if b, err := hex.DecodeString(s); err == nil {
			return FromBytes(b)
		}
	}
	b, err := base32.DecodeStringNoPadding(strings.TrimRight(s, "="))
	if err != nil {
		return Zero, oops.Wrapf(err, "parse identity %q", s)
	}
	return FromBytes(b)
}

// Bytes returns a copy of the identity bytes.
func (id ExternalIdentity) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// IsZero reports whether id is unset.
func (id ExternalIdentity) IsZero() bool {
	return id == Zero
}

// String returns the unpadded base32 form.
func (id ExternalIdentity) String() string {
	return base32.EncodeToStringNoPadding(id[:])
}

// Short returns the first 8 characters of String, for log fields.
func (id ExternalIdentity) Short() string {
	s := id.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// MarshalText implements encoding.TextMarshaler.
func (id ExternalIdentity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ExternalIdentity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
