package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameSubmit, []byte("envelope")))
	require.NoError(t, WriteFrame(&buf, FrameStatus, []byte{0}))
	require.NoError(t, WriteFrame(&buf, FrameHello, nil))

	f, err := ReadFrame(&buf, 64)
	require.NoError(t, err)
	assert.Equal(t, FrameSubmit, f.Type)
	assert.Equal(t, []byte("envelope"), f.Payload)

	f, err = ReadFrame(&buf, 64)
	require.NoError(t, err)
	assert.Equal(t, Frame{Type: FrameStatus, Payload: []byte{0}}, f)

	f, err = ReadFrame(&buf, 64)
	require.NoError(t, err)
	assert.Equal(t, FrameHello, f.Type)
	assert.Empty(t, f.Payload)
}

func TestReadFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameSubmit, make([]byte, 100)))
	_, err := ReadFrame(&buf, 50)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	var empty [4]byte
	_, err = ReadFrame(bytes.NewReader(empty[:]), 50)
	assert.True(t, errors.Is(err, ErrEmptyFrame))

	var short [8]byte
	binary.BigEndian.PutUint32(short[:], 10)
	_, err = ReadFrame(bytes.NewReader(short[:]), 50)
	assert.Error(t, err)
}

func TestFrameTypeString(t *testing.T) {
	assert.Equal(t, "HELLO", FrameHello.String())
	assert.Equal(t, "FrameType(0x7f)", FrameType(0x7f).String())
}
