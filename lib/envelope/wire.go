package envelope

import (
	"encoding/binary"

	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/samber/oops"
)

// reader walks a frame front to back. Every read checks the remaining
// length first and reports the field that ran short.
type reader struct {
	data []byte
	off  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) fixed(n int, field string) ([]byte, error) {
	if r.remaining() < n {
		return nil, oops.Wrapf(ErrTruncatedInput, "%s: need %d bytes, have %d", field, n, r.remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8(field string) (uint8, error) {
	b, err := r.fixed(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16(field string) (uint16, error) {
	b, err := r.fixed(2, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32(field string) (uint32, error) {
	b, err := r.fixed(4, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) identity(field string) (identity.ExternalIdentity, error) {
	var id identity.ExternalIdentity
	b, err := r.fixed(identity.Size, field)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// bytes reads n bytes into a fresh slice. Zero length yields nil so that
// decoded values compare equal to values built by the constructors.
func (r *reader) bytes(n int, max int, field string) ([]byte, error) {
	if n > r.remaining() {
		return nil, oops.Wrapf(ErrTruncatedInput, "%s: declared %d bytes, have %d", field, n, r.remaining())
	}
	if n > max {
		return nil, oops.Wrapf(ErrMalformed, "%s: %d bytes exceeds limit %d", field, n, max)
	}
	b, _ := r.fixed(n, field)
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *reader) prefixed16(max int, field string) ([]byte, error) {
	n, err := r.u16(field + " length")
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n), max, field)
}

func (r *reader) prefixed32(max int, field string) ([]byte, error) {
	n, err := r.u32(field + " length")
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, oops.Wrapf(ErrTruncatedInput, "%s: declared %d bytes, have %d", field, n, r.remaining())
	}
	return r.bytes(int(n), max, field)
}

func (r *reader) finish() error {
	if r.remaining() != 0 {
		return oops.Wrapf(ErrMalformed, "%d trailing bytes after envelope", r.remaining())
	}
	return nil
}

func appendRoutingPrefix(b []byte, src, dst identity.ExternalIdentity, expiry uint32) []byte {
	b = append(b, src[:]...)
	b = append(b, dst[:]...)
	return binary.BigEndian.AppendUint32(b, expiry)
}

func appendPrefixed16(b, field []byte, name string, max int) ([]byte, error) {
	if len(field) > max {
		return nil, oops.Wrapf(ErrMalformed, "%s: %d bytes exceeds limit %d", name, len(field), max)
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(field)))
	return append(b, field...), nil
}

func appendPrefixed32(b, field []byte, name string, max int) ([]byte, error) {
	if len(field) > max {
		return nil, oops.Wrapf(ErrMalformed, "%s: %d bytes exceeds limit %d", name, len(field), max)
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(field)))
	return append(b, field...), nil
}

// nilIfEmpty keeps zero-length fields canonical.
func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
