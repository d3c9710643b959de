package envelope

import (
	"encoding/hex"

	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Header is the routing contract readable from any supported version.
type Header struct {
	Kind    Kind
	Version Version
	Src     identity.ExternalIdentity
	Dst     identity.ExternalIdentity
	Expiry  uint32
}

// readFrameHeader reads and checks kind and version.
func readFrameHeader(r *reader) (Kind, Version, error) {
	k, err := r.u8("kind")
	if err != nil {
		return 0, 0, err
	}
	kind := Kind(k)
	if kind != KindRelay && kind != KindMessage {
		return 0, 0, oops.Wrapf(ErrUnknownKind, "kind byte 0x%02x", k)
	}
	v, err := r.u8("version")
	if err != nil {
		return 0, 0, err
	}
	version := Version(v)
	if !supportedVersion(kind, version) {
		return 0, 0, oops.Wrapf(ErrUnsupportedVersion, "%s envelope %s", kind, version)
	}
	return kind, version, nil
}

// PeekHeader reads the routing prefix without decoding payload fields.
// Unknown kinds and versions are rejected rather than guessed at.
func PeekHeader(raw []byte) (Header, error) {
	r := newReader(raw)
	kind, version, err := readFrameHeader(r)
	if err != nil {
		return Header{}, err
	}
	h := Header{Kind: kind, Version: version}
	if h.Src, err = r.identity("src"); err != nil {
		return Header{}, err
	}
	if h.Dst, err = r.identity("dst"); err != nil {
		return Header{}, err
	}
	if h.Expiry, err = r.u32("expiry"); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Decode parses a frame of either kind.
func Decode(raw []byte) (Envelope, error) {
	r := newReader(raw)
	kind, version, err := readFrameHeader(r)
	if err != nil {
		return nil, err
	}
	var env Envelope
	switch kind {
	case KindRelay:
		env, err = decodeRelay(r, version)
	case KindMessage:
		env, err = decodeMessage(r, version)
	}
	if err != nil {
		log.WithFields(logger.Fields{
			"at":      "envelope.Decode",
			"kind":    kind,
			"version": version,
			"size":    len(raw),
		}).WithError(err).Debug("failed to decode envelope")
		return nil, err
	}
	return env, nil
}

// DecodeRelay parses a frame that must be a relay envelope.
func DecodeRelay(raw []byte) (RelayMessage, error) {
	r := newReader(raw)
	kind, version, err := readFrameHeader(r)
	if err != nil {
		return nil, err
	}
	if kind != KindRelay {
		return nil, oops.Wrapf(ErrMalformed, "expected relay envelope, got %s", kind)
	}
	return decodeRelay(r, version)
}

// DecodeMessage parses a frame that must be a generic message envelope.
func DecodeMessage(raw []byte) (Message, error) {
	r := newReader(raw)
	kind, version, err := readFrameHeader(r)
	if err != nil {
		return nil, err
	}
	if kind != KindMessage {
		return nil, oops.Wrapf(ErrMalformed, "expected message envelope, got %s", kind)
	}
	return decodeMessage(r, version)
}

func decodeRelay(r *reader, v Version) (RelayMessage, error) {
	switch v {
	case V0:
		m, err := decodeRelayV0(r)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, oops.Wrapf(ErrUnsupportedVersion, "relay envelope %s", v)
	}
}

func decodeMessage(r *reader, v Version) (Message, error) {
	switch v {
	case V0:
		m, err := decodeMessageV0(r)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, oops.Wrapf(ErrUnsupportedVersion, "message envelope %s", v)
	}
}

// Encode is the inverse of Decode.
func Encode(e Envelope) ([]byte, error) {
	if e == nil {
		return nil, oops.Errorf("cannot encode nil envelope")
	}
	return e.MarshalBinary()
}

// EncodeRelay is the inverse of DecodeRelay.
func EncodeRelay(m RelayMessage) ([]byte, error) {
	return Encode(m)
}

// EncodeMessage is the inverse of DecodeMessage.
func EncodeMessage(m Message) ([]byte, error) {
	return Encode(m)
}

// Describe returns the fields of e for logs and the CLI. Payload bytes are
// summarised by length; signatures and MACs are shown as hex.
func Describe(e Envelope) logger.Fields {
	f := logger.Fields{
		"kind":    e.Kind().String(),
		"version": e.Version().String(),
		"src":     e.Src().String(),
		"dst":     e.Dst().String(),
		"expiry":  e.Expiry(),
	}
	switch m := e.(type) {
	case RelayMessage:
		f["msg_len"] = len(m.Payload())
		f["mac"] = hex.EncodeToString(m.MAC())
		f["sig"] = hex.EncodeToString(m.Signature())
	case Message:
		f["protocol"] = m.Protocol().String()
		f["body_len"] = len(m.Body())
		if sig, ok := m.Signature().Get(); ok {
			f["sig"] = hex.EncodeToString(sig)
		} else {
			f["sig"] = "absent"
		}
	}
	return f
}
