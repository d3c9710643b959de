package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/samber/oops"
)

// FrameType is the first byte of every frame.
type FrameType uint8

const (
	FrameSubmit FrameType = 0x01
	FrameHello  FrameType = 0x02
	FrameRelay  FrameType = 0x03
	FrameStatus FrameType = 0x04
)

func (t FrameType) String() string {
	switch t {
	case FrameSubmit:
		return "SUBMIT"
	case FrameHello:
		return "HELLO"
	case FrameRelay:
		return "RELAY"
	case FrameStatus:
		return "STATUS"
	default:
		return fmt.Sprintf("FrameType(0x%02x)", uint8(t))
	}
}

const frameLengthSize = 4

var (
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrEmptyFrame       = errors.New("empty frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Frame is one decoded frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// ReadFrame reads one frame whose type and payload fit in max bytes.
func ReadFrame(r io.Reader, max int) (Frame, error) {
	var hdr [frameLengthSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return Frame{}, ErrEmptyFrame
	}
	if uint64(n) > uint64(max) {
		return Frame{}, oops.Wrapf(ErrFrameTooLarge, "frame of %d bytes, max %d", n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, oops.Wrapf(err, "read %d byte frame", n)
	}
	return Frame{Type: FrameType(buf[0]), Payload: buf[1:]}, nil
}

// WriteFrame writes t and payload as one frame.
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	buf := make([]byte, frameLengthSize+1+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(1+len(payload)))
	buf[frameLengthSize] = byte(t)
	copy(buf[frameLengthSize+1:], payload)
	_, err := w.Write(buf)
	return err
}
