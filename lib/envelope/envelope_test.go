package envelope

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSigner signs with a single Ed25519 key regardless of the identity
// asked for.
type testSigner struct {
	key ed25519.Ed25519PrivateKey
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	_, key, err := ed25519.GenerateEd25519KeyPair()
	require.NoError(t, err)
	return &testSigner{key: *key}
}

func (s *testSigner) Sign(content []byte, _ identity.ExternalIdentity) (Signature, error) {
	signer, err := s.key.NewSigner()
	if err != nil {
		return nil, err
	}
	return signer.Sign(content)
}

func ident(b byte) identity.ExternalIdentity {
	var id identity.ExternalIdentity
	for i := range id {
		id[i] = b
	}
	return id
}

func testRelayContent() RelayMessageContentV0 {
	return RelayMessageContentV0{
		Src:    ident(0xA1),
		Dst:    ident(0xB2),
		Expiry: 1000,
		Msg:    []byte("ciphertext bytes"),
		Mac:    []byte("0123456789abcdef0123456789abcdef"),
	}
}

func testMessageContent() MessageContentV0 {
	return MessageContentV0{
		Src:      ident(0xA1),
		Dst:      ident(0xB2),
		Protocol: NewProtocol("chat", 2),
		Expiry:   2000,
		Body:     []byte(`{"text":"hi"}`),
	}
}

func TestRelayRoundTrip(t *testing.T) {
	m, err := SignRelay(testRelayContent(), newTestSigner(t))
	require.NoError(t, err)

	raw, err := EncodeRelay(m)
	require.NoError(t, err)

	decoded, err := DecodeRelay(raw)
	require.NoError(t, err)
	assert.Equal(t, RelayMessage(m), decoded)

	generic, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Envelope(m), generic)

	again, err := Encode(generic)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestRelayRoundTripEmptyFields(t *testing.T) {
	c := testRelayContent()
	c.Msg = []byte{}
	c.Mac = nil
	m := NewRelayMessageV0(c, Signature{0x01})

	raw, err := EncodeRelay(m)
	require.NoError(t, err)
	decoded, err := DecodeRelay(raw)
	require.NoError(t, err)
	assert.Equal(t, RelayMessage(m), decoded)
}

func TestMessageRoundTrip(t *testing.T) {
	signed, err := SignMessage(testMessageContent(), newTestSigner(t))
	require.NoError(t, err)
	unsigned := NewMessageV0(testMessageContent(), NoSignature())

	for name, m := range map[string]*MessageV0{"signed": signed, "unsigned": unsigned} {
		t.Run(name, func(t *testing.T) {
			raw, err := EncodeMessage(m)
			require.NoError(t, err)

			decoded, err := DecodeMessage(raw)
			require.NoError(t, err)
			assert.Equal(t, Message(m), decoded)
			assert.Equal(t, m.Sig.Present(), decoded.Signature().Present())
		})
	}
}

func TestDecodeDispatchesOnKind(t *testing.T) {
	relay, err := SignRelay(testRelayContent(), newTestSigner(t))
	require.NoError(t, err)
	relayRaw, err := Encode(relay)
	require.NoError(t, err)

	msgRaw, err := Encode(NewMessageV0(testMessageContent(), NoSignature()))
	require.NoError(t, err)

	e, err := Decode(relayRaw)
	require.NoError(t, err)
	_, ok := e.(RelayMessage)
	assert.True(t, ok)
	assert.Equal(t, KindRelay, e.Kind())

	e, err = Decode(msgRaw)
	require.NoError(t, err)
	_, ok = e.(Message)
	assert.True(t, ok)
	assert.Equal(t, KindMessage, e.Kind())

	_, err = DecodeRelay(msgRaw)
	assert.True(t, errors.Is(err, ErrMalformed))
	_, err = DecodeMessage(relayRaw)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestUnknownVersionIsUnsupported(t *testing.T) {
	relay, err := SignRelay(testRelayContent(), newTestSigner(t))
	require.NoError(t, err)
	relayRaw, err := Encode(relay)
	require.NoError(t, err)
	msgRaw, err := Encode(NewMessageV0(testMessageContent(), NoSignature()))
	require.NoError(t, err)

	for _, raw := range [][]byte{relayRaw, msgRaw} {
		for v := 1; v < 256; v++ {
			mutated := append([]byte(nil), raw...)
			mutated[1] = byte(v)

			_, err := Decode(mutated)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupportedVersion), "version %d", v)

			_, err = PeekHeader(mutated)
			assert.True(t, errors.Is(err, ErrUnsupportedVersion))
		}
	}

	// Version byte alone, nothing after it.
	_, err = Decode([]byte{byte(KindRelay), 9})
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestUnknownKind(t *testing.T) {
	_, err := Decode([]byte{0x7F, 0x00, 0x01})
	assert.True(t, errors.Is(err, ErrUnknownKind))
	assert.True(t, IsDecodeError(err))
}

func TestTruncationNeverPanics(t *testing.T) {
	relay, err := SignRelay(testRelayContent(), newTestSigner(t))
	require.NoError(t, err)
	relayRaw, err := Encode(relay)
	require.NoError(t, err)
	signed, err := SignMessage(testMessageContent(), newTestSigner(t))
	require.NoError(t, err)
	msgRaw, err := Encode(signed)
	require.NoError(t, err)

	for _, raw := range [][]byte{relayRaw, msgRaw} {
		for i := 0; i < len(raw); i++ {
			_, err := Decode(raw[:i])
			require.Error(t, err, "prefix of %d bytes", i)
			assert.True(t, IsDecodeError(err), "prefix of %d bytes: %v", i, err)
		}
	}
}

func TestDeclaredLengthBeyondInput(t *testing.T) {
	relay, err := SignRelay(testRelayContent(), newTestSigner(t))
	require.NoError(t, err)
	raw, err := Encode(relay)
	require.NoError(t, err)

	msgLenOffset := FrameHeaderSize + RoutingPrefixSize
	binary.BigEndian.PutUint32(raw[msgLenOffset:], uint32(len(raw)))

	_, err = Decode(raw)
	assert.True(t, errors.Is(err, ErrTruncatedInput))
}

func TestRelayMissingSignature(t *testing.T) {
	m := NewRelayMessageV0(testRelayContent(), nil)

	_, err := EncodeRelay(m)
	assert.True(t, errors.Is(err, ErrMissingSignature))

	// Build the frame by hand with a zero signature length.
	content, err := m.SignedBytes()
	require.NoError(t, err)
	raw := append([]byte{byte(KindRelay), byte(V0)}, content...)

	_, err = Decode(raw)
	assert.True(t, errors.Is(err, ErrMissingSignature))

	raw = append(raw, 0x00, 0x00)
	_, err = Decode(raw)
	assert.True(t, errors.Is(err, ErrMissingSignature))
}

func TestMessageMalformedSignatureFlag(t *testing.T) {
	raw, err := Encode(NewMessageV0(testMessageContent(), NoSignature()))
	require.NoError(t, err)

	raw[len(raw)-1] = 0x05
	_, err = Decode(raw)
	assert.True(t, errors.Is(err, ErrMalformed))

	raw[len(raw)-1] = sigPresent
	raw = append(raw, 0x00, 0x00)
	_, err = Decode(raw)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestTrailingBytesRejected(t *testing.T) {
	raw, err := Encode(NewMessageV0(testMessageContent(), NoSignature()))
	require.NoError(t, err)

	_, err = Decode(append(raw, 0xFF))
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestEmptyProtocolFamilyRejected(t *testing.T) {
	c := testMessageContent()
	c.Protocol.Family = ""

	_, err := Encode(NewMessageV0(c, NoSignature()))
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestPeekHeaderMatchesDecode(t *testing.T) {
	relay, err := SignRelay(testRelayContent(), newTestSigner(t))
	require.NoError(t, err)
	raw, err := Encode(relay)
	require.NoError(t, err)

	h, err := PeekHeader(raw[:FrameHeaderSize+RoutingPrefixSize])
	require.NoError(t, err)
	assert.Equal(t, Header{
		Kind:    KindRelay,
		Version: V0,
		Src:     relay.Src(),
		Dst:     relay.Dst(),
		Expiry:  relay.Expiry(),
	}, h)
}

func TestSignedBytesAreTheEncodedContent(t *testing.T) {
	m, err := SignMessage(testMessageContent(), newTestSigner(t))
	require.NoError(t, err)
	raw, err := Encode(m)
	require.NoError(t, err)
	signed, err := m.SignedBytes()
	require.NoError(t, err)

	assert.Equal(t, signed, raw[FrameHeaderSize:FrameHeaderSize+len(signed)])
}

func TestProtocolParse(t *testing.T) {
	p, err := ParseProtocol("chat/v2")
	require.NoError(t, err)
	assert.Equal(t, NewProtocol("chat", 2), p)
	assert.Equal(t, "chat/v2", p.String())

	for _, bad := range []string{"chat", "/v1", "chat/vx", "chat/v70000"} {
		_, err := ParseProtocol(bad)
		assert.Error(t, err, bad)
	}
}

func TestDescribe(t *testing.T) {
	f := Describe(NewMessageV0(testMessageContent(), NoSignature()))
	assert.Equal(t, "message", f["kind"])
	assert.Equal(t, "chat/v2", f["protocol"])
	assert.Equal(t, "absent", f["sig"])

	relay, err := SignRelay(testRelayContent(), newTestSigner(t))
	require.NoError(t, err)
	f = Describe(relay)
	assert.Equal(t, "relay", f["kind"])
	assert.Equal(t, len(relay.Payload()), f["msg_len"])
}

func TestMessageV0WireLayout(t *testing.T) {
	m := NewMessageV0(MessageContentV0{
		Src:      ident(1),
		Dst:      ident(2),
		Protocol: NewProtocol("chat", 3),
		Expiry:   0xaabbccdd,
		Body:     []byte("hi"),
	}, NoSignature())
	raw, err := Encode(m)
	require.NoError(t, err)

	assert.Equal(t, []byte{byte(KindMessage), byte(V0)}, raw[:2])
	off := 2 + 2*identity.Size
	assert.Equal(t, uint32(0xaabbccdd), binary.BigEndian.Uint32(raw[off:]))
	off += 4
	assert.Equal(t, byte(4), raw[off])
	assert.Equal(t, "chat", string(raw[off+1:off+5]))
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(raw[off+5:]))

	h, err := PeekHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xaabbccdd), h.Expiry)
}
