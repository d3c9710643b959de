package keys

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/crypto/types"
	"github.com/go-i2p/go-msgrouter/lib/crypto/mac"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var (
	ErrNoPrivateKey   = errors.New("no private key for identity")
	ErrNoRelaySecret  = errors.New("no relay secret for identity pair")
	ErrInvalidSecret  = errors.New("relay secret must not be empty")
	ErrIdentityExists = errors.New("identity already present with a different key")
)

// KeyStore is the read side of a KeyRing used by the verifier and the
// router.
type KeyStore interface {
	SigningPublicKey(id identity.ExternalIdentity) (types.SigningPublicKey, bool)
	RelayKey(src, dst identity.ExternalIdentity) ([]byte, error)
}

// pair is an unordered identity pair. Both directions share one secret,
// and the direction is mixed back in by mac.DeriveRelayKey.
type pair struct {
	lo, hi identity.ExternalIdentity
}

func newPair(a, b identity.ExternalIdentity) pair {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return pair{lo: a, hi: b}
}

// KeyRing maps external identities to their signing keys and holds the
// pairwise secrets relay MACs are keyed from. It is safe for concurrent use.
type KeyRing struct {
	mu      sync.RWMutex
	public  map[identity.ExternalIdentity]types.SigningPublicKey
	private map[identity.ExternalIdentity]ed25519.Ed25519PrivateKey
	secrets map[pair][]byte
}

func NewKeyRing() *KeyRing {
	return &KeyRing{
		public:  make(map[identity.ExternalIdentity]types.SigningPublicKey),
		private: make(map[identity.ExternalIdentity]ed25519.Ed25519PrivateKey),
		secrets: make(map[pair][]byte),
	}
}

// Add registers a remote public key and returns the identity it derives.
// Adding the same key twice is a no-op.
func (k *KeyRing) Add(pub types.SigningPublicKey) identity.ExternalIdentity {
	id := identity.FromSigningKey(pub.Bytes())
	k.mu.Lock()
	k.public[id] = pub
	k.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":       "KeyRing.Add",
		"identity": id.Short(),
	}).Debug("added public key")
	return id
}

// AddLocal registers a private key, making its identity usable as a sender.
func (k *KeyRing) AddLocal(priv ed25519.Ed25519PrivateKey) (identity.ExternalIdentity, error) {
	pub, err := priv.Public()
	if err != nil {
		return identity.Zero, oops.Wrapf(err, "derive public key")
	}
	id := identity.FromSigningKey(pub.Bytes())

	k.mu.Lock()
	defer k.mu.Unlock()
	if existing, ok := k.private[id]; ok && !bytes.Equal(existing.Bytes(), priv.Bytes()) {
		return identity.Zero, oops.Wrapf(ErrIdentityExists, "identity %s", id.Short())
	}
	k.public[id] = pub
	k.private[id] = priv
	log.WithFields(logger.Fields{
		"at":       "KeyRing.AddLocal",
		"identity": id.Short(),
	}).Debug("added local signing key")
	return id, nil
}

// Generate creates a fresh Ed25519 key, adds it as local and returns its
// identity.
func (k *KeyRing) Generate() (identity.ExternalIdentity, error) {
	_, priv, err := ed25519.GenerateEd25519KeyPair()
	if err != nil {
		return identity.Zero, oops.Wrapf(err, "generate ed25519 key")
	}
	return k.AddLocal(*priv)
}

// Remove forgets an identity and every relay secret it takes part in.
func (k *KeyRing) Remove(id identity.ExternalIdentity) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.public, id)
	delete(k.private, id)
	for p := range k.secrets {
		if p.lo == id || p.hi == id {
			delete(k.secrets, p)
		}
	}
}

// SigningPublicKey returns the verification key registered for id.
func (k *KeyRing) SigningPublicKey(id identity.ExternalIdentity) (types.SigningPublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.public[id]
	return pub, ok
}

// IsLocal reports whether the ring holds the private key for id.
func (k *KeyRing) IsLocal(id identity.ExternalIdentity) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.private[id]
	return ok
}

// Sign signs content with the private key of signer.
func (k *KeyRing) Sign(content []byte, signer identity.ExternalIdentity) (envelope.Signature, error) {
	k.mu.RLock()
	priv, ok := k.private[signer]
	k.mu.RUnlock()
	if !ok {
		return nil, oops.Wrapf(ErrNoPrivateKey, "identity %s", signer.Short())
	}
	s, err := priv.NewSigner()
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(content)
	if err != nil {
		return nil, oops.Wrapf(err, "sign as %s", signer.Short())
	}
	return sig, nil
}

// AddRelaySecret stores the secret shared by a and b. The order of the
// arguments does not matter.
func (k *KeyRing) AddRelaySecret(a, b identity.ExternalIdentity, secret []byte) error {
	if len(secret) == 0 {
		return ErrInvalidSecret
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	k.mu.Lock()
	k.secrets[newPair(a, b)] = s
	k.mu.Unlock()
	return nil
}

// RelayKey returns the MAC key for relay messages sent from src to dst.
func (k *KeyRing) RelayKey(src, dst identity.ExternalIdentity) ([]byte, error) {
	k.mu.RLock()
	secret, ok := k.secrets[newPair(src, dst)]
	k.mu.RUnlock()
	if !ok {
		return nil, oops.Wrapf(ErrNoRelaySecret, "%s -> %s", src.Short(), dst.Short())
	}
	return mac.DeriveRelayKey(secret, src[:], dst[:])
}

// Identities lists every known identity in byte order.
func (k *KeyRing) Identities() []identity.ExternalIdentity {
	k.mu.RLock()
	ids := make([]identity.ExternalIdentity, 0, len(k.public))
	for id := range k.public {
		ids = append(ids, id)
	}
	k.mu.RUnlock()
	sortIdentities(ids)
	return ids
}

// Local lists the identities the ring can sign for, in byte order.
func (k *KeyRing) Local() []identity.ExternalIdentity {
	k.mu.RLock()
	ids := make([]identity.ExternalIdentity, 0, len(k.private))
	for id := range k.private {
		ids = append(ids, id)
	}
	k.mu.RUnlock()
	sortIdentities(ids)
	return ids
}

func sortIdentities(ids []identity.ExternalIdentity) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

var (
	_ KeyStore        = (*KeyRing)(nil)
	_ envelope.Signer = (*KeyRing)(nil)
)
