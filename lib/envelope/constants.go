package envelope

import (
	"errors"
	"fmt"

	"github.com/go-i2p/go-msgrouter/lib/identity"
)

// Kind identifies which envelope union a frame belongs to.
type Kind uint8

const (
	KindRelay   Kind = 0x01
	KindMessage Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindRelay:
		return "relay"
	case KindMessage:
		return "message"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Version is the version discriminant of an envelope.
type Version uint8

const V0 Version = 0

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint8(v))
}

const (
	// FrameHeaderSize is kind + version.
	FrameHeaderSize = 2
	// RoutingPrefixSize is src + dst + expiry.
	RoutingPrefixSize = identity.Size*2 + 4
	// MaxPayloadSize bounds msg and body.
	MaxPayloadSize = 1 << 20
	// MaxShortFieldSize bounds the u16 length-prefixed fields (mac, sig).
	MaxShortFieldSize = 1<<16 - 1
	// MaxFamilySize bounds the protocol family name.
	MaxFamilySize = 1<<8 - 1
)

const (
	sigAbsent  byte = 0
	sigPresent byte = 1
)

// Decode errors. These use errors.New so callers can match them with errors.Is().
var (
	ErrUnknownKind        = errors.New("unknown envelope kind")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrTruncatedInput     = errors.New("truncated envelope input")
	ErrMalformed          = errors.New("malformed envelope")
	ErrMissingSignature   = errors.New("relay envelope is missing its signature")
)

// IsDecodeError reports whether err came from decoding malformed bytes.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrTruncatedInput) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrMissingSignature)
}

func supportedVersion(k Kind, v Version) bool {
	switch k {
	case KindRelay, KindMessage:
		return v == V0
	default:
		return false
	}
}
