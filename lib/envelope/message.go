package envelope

import (
	"encoding/binary"

	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/samber/oops"
)

// Message is the closed union of generic protocol envelope versions.
type Message interface {
	Envelope
	Protocol() Protocol
	// Body is opaque to the router; only the handler for Protocol reads it.
	Body() []byte
	Signature() OptionalSignature
	isMessage()
}

// MessageContentV0 is the signed part of a V0 message envelope.
type MessageContentV0 struct {
	Src      identity.ExternalIdentity
	Dst      identity.ExternalIdentity
	Protocol Protocol
	// Expiry is the time after which the message is deleted if undelivered.
	Expiry uint32
	Body   []byte
}

// MessageV0 carries the content and an optional signature by Src.
type MessageV0 struct {
	Content MessageContentV0
	Sig     OptionalSignature
}

// NewMessageV0 assembles a V0 message envelope.
func NewMessageV0(content MessageContentV0, sig OptionalSignature) *MessageV0 {
	content.Body = nilIfEmpty(content.Body)
	if s, ok := sig.Get(); ok {
		sig = SomeSignature(nilIfEmpty(s))
	}
	return &MessageV0{Content: content, Sig: sig}
}

// SignMessage signs content as content.Src and returns the envelope.
func SignMessage(content MessageContentV0, s Signer) (*MessageV0, error) {
	m := NewMessageV0(content, NoSignature())
	signed, err := m.SignedBytes()
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(signed, content.Src)
	if err != nil {
		return nil, oops.Wrapf(err, "sign message content as %s", content.Src.Short())
	}
	m.Sig = SomeSignature(nilIfEmpty(sig))
	return m, nil
}

func (m *MessageV0) Kind() Kind                     { return KindMessage }
func (m *MessageV0) Version() Version               { return V0 }
func (m *MessageV0) Src() identity.ExternalIdentity { return m.Content.Src }
func (m *MessageV0) Dst() identity.ExternalIdentity { return m.Content.Dst }
func (m *MessageV0) Expiry() uint32                 { return m.Content.Expiry }
func (m *MessageV0) Protocol() Protocol             { return m.Content.Protocol }
func (m *MessageV0) Body() []byte                   { return m.Content.Body }
func (m *MessageV0) Signature() OptionalSignature   { return m.Sig }
func (m *MessageV0) isMessage()                     {}

func (c MessageContentV0) appendTo(b []byte) ([]byte, error) {
	if err := c.Protocol.Validate(); err != nil {
		return nil, err
	}
	// Expiry travels in the shared routing prefix, ahead of the protocol.
	b = appendRoutingPrefix(b, c.Src, c.Dst, c.Expiry)
	b = append(b, byte(len(c.Protocol.Family)))
	b = append(b, c.Protocol.Family...)
	b = binary.BigEndian.AppendUint16(b, c.Protocol.Version)
	return appendPrefixed32(b, c.Body, "body", MaxPayloadSize)
}

func (m *MessageV0) SignedBytes() ([]byte, error) {
	return m.Content.appendTo(nil)
}

func (m *MessageV0) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, FrameHeaderSize+RoutingPrefixSize+len(m.Content.Protocol.Family)+len(m.Content.Body)+16)
	b = append(b, byte(KindMessage), byte(V0))
	b, err := m.Content.appendTo(b)
	if err != nil {
		return nil, err
	}
	sig, ok := m.Sig.Get()
	if !ok {
		return append(b, sigAbsent), nil
	}
	if len(sig) == 0 {
		return nil, oops.Wrapf(ErrMalformed, "present signature is empty")
	}
	b = append(b, sigPresent)
	return appendPrefixed16(b, sig, "sig", MaxShortFieldSize)
}

// decodeMessageV0 reads a V0 body. r is positioned after the version byte.
func decodeMessageV0(r *reader) (*MessageV0, error) {
	var (
		m   MessageV0
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
	famLen, err := r.u8("protocol family length")
	if err != nil {
		return nil, err
	}
	if famLen == 0 {
		return nil, oops.Wrapf(ErrMalformed, "empty protocol family")
	}
	fam, err := r.fixed(int(famLen), "protocol family")
	if err != nil {
		return nil, err
	}
	c.Protocol.Family = string(fam)
	if c.Protocol.Version, err = r.u16("protocol version"); err != nil {
		return nil, err
	}
	if c.Body, err = r.prefixed32(MaxPayloadSize, "body"); err != nil {
		return nil, err
	}

	flag, err := r.u8("signature flag")
	if err != nil {
		return nil, err
	}
	switch flag {
	case sigAbsent:
		m.Sig = NoSignature()
	case sigPresent:
		sig, err := r.prefixed16(MaxShortFieldSize, "sig")
		if err != nil {
			return nil, err
		}
		if len(sig) == 0 {
			return nil, oops.Wrapf(ErrMalformed, "present signature is empty")
		}
		m.Sig = SomeSignature(sig)
	default:
		return nil, oops.Wrapf(ErrMalformed, "signature flag %d", flag)
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return &m, nil
}

var _ Message = (*MessageV0)(nil)
