package keys

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Persisted key ring format, YAML encoded:
//
//	version: 1
//	identities:
//	  - id: <base32 identity>
//	    public: <hex ed25519 public key>
//	    private: <hex ed25519 private key, local identities only>
//	relay_secrets:
//	  - a: <base32 identity>
//	    b: <base32 identity>
//	    secret: <hex>
//
// Files are written with 0600 permissions, directories with 0700.

const fileVersion = 1

// RelaySecretSize is the size of secrets made by NewRelaySecret.
const RelaySecretSize = 32

var ErrCorruptKeyRing = errors.New("key ring file is corrupt")

type fileIdentity struct {
	ID      identity.ExternalIdentity `yaml:"id"`
	Public  string                    `yaml:"public"`
	Private string                    `yaml:"private,omitempty"`
}

type fileSecret struct {
	A      identity.ExternalIdentity `yaml:"a"`
	B      identity.ExternalIdentity `yaml:"b"`
	Secret string                    `yaml:"secret"`
}

type keyRingFile struct {
	Version      int            `yaml:"version"`
	Identities   []fileIdentity `yaml:"identities"`
	RelaySecrets []fileSecret   `yaml:"relay_secrets,omitempty"`
}

// NewRelaySecret returns a fresh random secret for AddRelaySecret.
func NewRelaySecret() ([]byte, error) {
	secret := make([]byte, RelaySecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.Wrapf(err, "failed to generate relay secret")
	}
	return secret, nil
}

// Save writes the key ring to path, replacing any previous file atomically.
func (k *KeyRing) Save(path string) error {
	log.WithFields(logger.Fields{
		"at":   "KeyRing.Save",
		"path": path,
	}).Debug("Storing key ring to disk")

	data, err := k.marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.WithError(err).WithField("path", path).Error("Failed to create key ring directory")
		return oops.Wrapf(err, "create key ring directory")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.WithError(err).WithField("path", tmp).Error("Failed to write key ring file")
		return oops.Wrapf(err, "write key ring")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return oops.Wrapf(err, "replace key ring")
	}
	log.WithField("path", path).Info("Stored key ring")
	return nil
}

// Load reads a key ring written by Save.
func Load(path string) (*KeyRing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Wrapf(err, "read key ring %s", path)
	}
	k, err := unmarshal(data)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":         "keys.Load",
		"path":       path,
		"identities": len(k.public),
		"local":      len(k.private),
	}).Debug("Loaded key ring")
	return k, nil
}

// LoadOrCreate loads path, or creates it with one fresh local identity when
// it does not exist. A file that exists but cannot be read is an error and
// is never overwritten.
func LoadOrCreate(path string) (*KeyRing, error) {
	k, err := Load(path)
	if err == nil {
		return k, nil
	}
	if _, statErr := os.Stat(path); statErr == nil || !os.IsNotExist(statErr) {
		if statErr == nil {
			return nil, oops.Wrapf(err, "key ring %s exists but could not be loaded, refusing to overwrite", path)
		}
		return nil, oops.Wrapf(statErr, "cannot check key ring %s", path)
	}

	log.WithField("path", path).Info("Creating new key ring")
	k = NewKeyRing()
	if _, err := k.Generate(); err != nil {
		return nil, err
	}
	if err := k.Save(path); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *KeyRing) marshal() ([]byte, error) {
	k.mu.RLock()
	f := keyRingFile{Version: fileVersion}
	for id, pub := range k.public {
		fi := fileIdentity{ID: id, Public: hex.EncodeToString(pub.Bytes())}
		if priv, ok := k.private[id]; ok {
			fi.Private = hex.EncodeToString(priv.Bytes())
		}
		f.Identities = append(f.Identities, fi)
	}
	for p, secret := range k.secrets {
		f.RelaySecrets = append(f.RelaySecrets, fileSecret{A: p.lo, B: p.hi, Secret: hex.EncodeToString(secret)})
	}
	k.mu.RUnlock()

	sortFile(&f)
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, oops.Wrapf(err, "encode key ring")
	}
	return data, nil
}

func unmarshal(data []byte) (*KeyRing, error) {
	var f keyRingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Wrapf(ErrCorruptKeyRing, "%v", err)
	}
	if f.Version != fileVersion {
		return nil, oops.Wrapf(ErrCorruptKeyRing, "unsupported key ring version %d", f.Version)
	}

	k := NewKeyRing()
	for _, fi := range f.Identities {
		id, err := loadIdentity(k, fi)
		if err != nil {
			return nil, err
		}
		if id != fi.ID {
			return nil, oops.Wrapf(ErrCorruptKeyRing, "identity %s does not match its key (%s)", fi.ID.Short(), id.Short())
		}
	}
	for _, fs := range f.RelaySecrets {
		secret, err := hex.DecodeString(fs.Secret)
		if err != nil {
			return nil, oops.Wrapf(ErrCorruptKeyRing, "relay secret %s/%s: %v", fs.A.Short(), fs.B.Short(), err)
		}
		if err := k.AddRelaySecret(fs.A, fs.B, secret); err != nil {
			return nil, oops.Wrapf(ErrCorruptKeyRing, "relay secret %s/%s: %v", fs.A.Short(), fs.B.Short(), err)
		}
	}
	return k, nil
}

func loadIdentity(k *KeyRing, fi fileIdentity) (identity.ExternalIdentity, error) {
	if fi.Private != "" {
		raw, err := hex.DecodeString(fi.Private)
		if err != nil {
			return identity.Zero, oops.Wrapf(ErrCorruptKeyRing, "private key of %s: %v", fi.ID.Short(), err)
		}
		priv, err := ed25519.NewEd25519PrivateKey(raw)
		if err != nil {
			return identity.Zero, oops.Wrapf(ErrCorruptKeyRing, "private key of %s: %v", fi.ID.Short(), err)
		}
		return k.AddLocal(priv)
	}
	raw, err := hex.DecodeString(fi.Public)
	if err != nil {
		return identity.Zero, oops.Wrapf(ErrCorruptKeyRing, "public key of %s: %v", fi.ID.Short(), err)
	}
	pub, err := ed25519.NewEd25519PublicKey(raw)
	if err != nil {
		return identity.Zero, oops.Wrapf(ErrCorruptKeyRing, "public key of %s: %v", fi.ID.Short(), err)
	}
	return k.Add(pub), nil
}

func sortFile(f *keyRingFile) {
	sort.Slice(f.Identities, func(i, j int) bool {
		return bytes.Compare(f.Identities[i].ID[:], f.Identities[j].ID[:]) < 0
	})
	// Secrets sort by their lower identity, then the higher one.
	sort.Slice(f.RelaySecrets, func(i, j int) bool {
		a, b := f.RelaySecrets[i], f.RelaySecrets[j]
		if c := bytes.Compare(a.A[:], b.A[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.B[:], b.B[:]) < 0
	})
}
