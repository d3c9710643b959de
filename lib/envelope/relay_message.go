package envelope

import (
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/samber/oops"
)

// Envelope is the version independent view shared by both kinds. Src, Dst
// and Expiry are the stable routing contract of every version.
type Envelope interface {
	Kind() Kind
	Version() Version
	Src() identity.ExternalIdentity
	Dst() identity.ExternalIdentity
	Expiry() uint32
	// SignedBytes returns the exact encoding covered by the signature.
	SignedBytes() ([]byte, error)
	MarshalBinary() ([]byte, error)
}

// RelayMessage is the closed union of relay envelope versions.
type RelayMessage interface {
	Envelope
	// Payload is the encrypted message.
	Payload() []byte
	// MAC authenticates Payload under the relay key of (Src, Dst).
	MAC() []byte
	Signature() Signature
	// Size is the number of bytes accounted to the envelope in a store.
	Size() int
	isRelayMessage()
}

// RelayMessageContentV0 is the signed part of a V0 relay envelope.
type RelayMessageContentV0 struct {
	Src identity.ExternalIdentity
	Dst identity.ExternalIdentity
	// Expiry is the time after which the message is deleted if undelivered.
	Expiry uint32
	// Msg is the encrypted message.
	Msg []byte
	// Mac is the MAC over Msg.
	Mac []byte
}

// RelayMessageV0 carries the content and the signature by Src.
type RelayMessageV0 struct {
	Content RelayMessageContentV0
	Sig     Signature
}

// NewRelayMessageV0 assembles a V0 relay envelope from already computed
// authentication material.
func NewRelayMessageV0(content RelayMessageContentV0, sig Signature) *RelayMessageV0 {
	content.Msg = nilIfEmpty(content.Msg)
	content.Mac = nilIfEmpty(content.Mac)
	return &RelayMessageV0{Content: content, Sig: nilIfEmpty(sig)}
}

// SignRelay signs content as content.Src and returns the envelope.
func SignRelay(content RelayMessageContentV0, s Signer) (*RelayMessageV0, error) {
	m := NewRelayMessageV0(content, nil)
	signed, err := m.SignedBytes()
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(signed, content.Src)
	if err != nil {
		return nil, oops.Wrapf(err, "sign relay content as %s", content.Src.Short())
	}
	m.Sig = nilIfEmpty(sig)
	return m, nil
}

func (m *RelayMessageV0) Kind() Kind                     { return KindRelay }
func (m *RelayMessageV0) Version() Version               { return V0 }
func (m *RelayMessageV0) Src() identity.ExternalIdentity { return m.Content.Src }
func (m *RelayMessageV0) Dst() identity.ExternalIdentity { return m.Content.Dst }
func (m *RelayMessageV0) Expiry() uint32                 { return m.Content.Expiry }
func (m *RelayMessageV0) Payload() []byte                { return m.Content.Msg }
func (m *RelayMessageV0) MAC() []byte                    { return m.Content.Mac }
func (m *RelayMessageV0) Signature() Signature           { return m.Sig }
func (m *RelayMessageV0) isRelayMessage()                {}

// Size returns the bytes held by the routing prefix, payload, MAC and
// signature.
func (m *RelayMessageV0) Size() int {
	return RoutingPrefixSize + len(m.Content.Msg) + len(m.Content.Mac) + len(m.Sig)
}

func (c RelayMessageContentV0) appendTo(b []byte) ([]byte, error) {
	b = appendRoutingPrefix(b, c.Src, c.Dst, c.Expiry)
	b, err := appendPrefixed32(b, c.Msg, "msg", MaxPayloadSize)
	if err != nil {
		return nil, err
	}
	return appendPrefixed16(b, c.Mac, "mac", MaxShortFieldSize)
}

func (m *RelayMessageV0) SignedBytes() ([]byte, error) {
	return m.Content.appendTo(nil)
}

func (m *RelayMessageV0) MarshalBinary() ([]byte, error) {
	if len(m.Sig) == 0 {
		return nil, ErrMissingSignature
	}
	b := make([]byte, 0, FrameHeaderSize+m.Size()+4+2+2)
	b = append(b, byte(KindRelay), byte(V0))
	b, err := m.Content.appendTo(b)
	if err != nil {
		return nil, err
	}
	return appendPrefixed16(b, m.Sig, "sig", MaxShortFieldSize)
}

// decodeRelayV0 reads a V0 body. r is positioned after the version byte.
func decodeRelayV0(r *reader) (*RelayMessageV0, error) {
	var (
		m   RelayMessageV0
		err error
	)
	c := &m.Content
	if c.Src, err = r.identity("src"); err != nil {
		return nil, err
	}
	if c.Dst, err = r.identity("dst"); err != nil {
		return nil, err
	}
	if c.Expiry, err = r.u32("expiry"); err != nil {
		return nil, err
	}
	if c.Msg, err = r.prefixed32(MaxPayloadSize, "msg"); err != nil {
		return nil, err
	}
	if c.Mac, err = r.prefixed16(MaxShortFieldSize, "mac"); err != nil {
		return nil, err
	}
	if r.remaining() == 0 {
		return nil, ErrMissingSignature
	}
	if m.Sig, err = r.prefixed16(MaxShortFieldSize, "sig"); err != nil {
		return nil, err
	}
	if len(m.Sig) == 0 {
		return nil, ErrMissingSignature
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return &m, nil
}

var _ RelayMessage = (*RelayMessageV0)(nil)
