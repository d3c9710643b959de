package keys

import (
	"errors"
	"sync"
	"testing"

	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSignAndVerify(t *testing.T) {
	k := NewKeyRing()
	id, err := k.Generate()
	require.NoError(t, err)
	assert.True(t, k.IsLocal(id))

	sig, err := k.Sign([]byte("content"), id)
	require.NoError(t, err)

	pub, ok := k.SigningPublicKey(id)
	require.True(t, ok)
	assert.Equal(t, id, identity.FromSigningKey(pub.Bytes()))

	v, err := pub.NewVerifier()
	require.NoError(t, err)
	assert.NoError(t, v.Verify([]byte("content"), sig))
}

func TestSignWithoutPrivateKey(t *testing.T) {
	priv, err := ed25519.GenerateEd25519Key()
	require.NoError(t, err)
	pub, err := priv.Public()
	require.NoError(t, err)

	k := NewKeyRing()
	id := k.Add(pub)
	assert.False(t, k.IsLocal(id))

	_, err = k.Sign([]byte("content"), id)
	assert.True(t, errors.Is(err, ErrNoPrivateKey))
}

func TestAddIsIdempotent(t *testing.T) {
	priv, err := ed25519.GenerateEd25519Key()
	require.NoError(t, err)
	pub, err := priv.Public()
	require.NoError(t, err)

	k := NewKeyRing()
	a := k.Add(pub)
	b := k.Add(pub)
	assert.Equal(t, a, b)
	assert.Len(t, k.Identities(), 1)
}

func TestRelayKeyIsDirectional(t *testing.T) {
	k := NewKeyRing()
	a, err := k.Generate()
	require.NoError(t, err)
	b, err := k.Generate()
	require.NoError(t, err)

	_, err = k.RelayKey(a, b)
	assert.True(t, errors.Is(err, ErrNoRelaySecret))

	secret, err := NewRelaySecret()
	require.NoError(t, err)
	require.NoError(t, k.AddRelaySecret(b, a, secret))

	ab, err := k.RelayKey(a, b)
	require.NoError(t, err)
	ba, err := k.RelayKey(b, a)
	require.NoError(t, err)
	assert.NotEqual(t, ab, ba)

	again, err := k.RelayKey(a, b)
	require.NoError(t, err)
	assert.Equal(t, ab, again)

	assert.True(t, errors.Is(k.AddRelaySecret(a, b, nil), ErrInvalidSecret))
}

func TestRemoveDropsSecrets(t *testing.T) {
	k := NewKeyRing()
	a, err := k.Generate()
	require.NoError(t, err)
	b, err := k.Generate()
	require.NoError(t, err)
	require.NoError(t, k.AddRelaySecret(a, b, []byte("shared")))

	k.Remove(a)
	_, ok := k.SigningPublicKey(a)
	assert.False(t, ok)
	_, err = k.RelayKey(a, b)
	assert.True(t, errors.Is(err, ErrNoRelaySecret))
	assert.Equal(t, []identity.ExternalIdentity{b}, k.Local())
}

func TestKeyRingConcurrentUse(t *testing.T) {
	k := NewKeyRing()
	id, err := k.Generate()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = k.Sign([]byte{byte(j)}, id)
				_, _ = k.Generate()
				_ = k.Identities()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, k.Identities(), 1+16*20)
}

func TestGeneratedKeysInteroperateWithCryptoLibrary(t *testing.T) {
	k := NewKeyRing()
	id, err := k.Generate()
	require.NoError(t, err)

	sig, err := k.Sign([]byte("relay content"), id)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	pub, ok := k.SigningPublicKey(id)
	require.True(t, ok)
	raw, err := ed25519.NewEd25519PublicKey(pub.Bytes())
	require.NoError(t, err)
	v, err := raw.NewVerifier()
	require.NoError(t, err)
	assert.NoError(t, v.Verify([]byte("relay content"), sig))
	assert.Error(t, v.Verify([]byte("other content"), sig))

	_, priv, err := ed25519.GenerateEd25519KeyPair()
	require.NoError(t, err)
	local, err := k.AddLocal(*priv)
	require.NoError(t, err)
	assert.True(t, k.IsLocal(local))
}
