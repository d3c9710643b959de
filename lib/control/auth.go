package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

var ErrInvalidPassword = errors.New("invalid password")

// AuthManager hands out expiring tokens in exchange for the password.
type AuthManager struct {
	password string
	secret   []byte
	now      func() time.Time

	mu      sync.Mutex
	tokens  map[string]time.Time
	counter uint64
}

func NewAuthManager(password string) (*AuthManager, error) {
	if password == "" {
		return nil, oops.Errorf("control password must not be empty")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.Wrapf(err, "generate token secret")
	}
	return &AuthManager{
		password: password,
		secret:   secret,
		now:      time.Now,
		tokens:   make(map[string]time.Time),
	}, nil
}

// Authenticate returns a token valid for ttl when password matches.
func (am *AuthManager) Authenticate(password string, ttl time.Duration) (string, error) {
	if !hmac.Equal([]byte(password), []byte(am.password)) {
		log.WithField("at", "AuthManager.Authenticate").Warn("control authentication failed")
		return "", ErrInvalidPassword
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	am.counter++
	token := am.token(am.counter)
	am.tokens[token] = am.now().Add(ttl)
	log.WithField("at", "AuthManager.Authenticate").Debug("issued control token")
	return token, nil
}

// ValidateToken reports whether token was issued and has not expired.
// Expired tokens are forgotten.
func (am *AuthManager) ValidateToken(token string) bool {
	am.mu.Lock()
	defer am.mu.Unlock()
	exp, ok := am.tokens[token]
	if !ok {
		return false
	}
	if !am.now().Before(exp) {
		delete(am.tokens, token)
		return false
	}
	return true
}

// CleanupExpiredTokens forgets expired tokens and returns how many.
func (am *AuthManager) CleanupExpiredTokens() int {
	now := am.now()
	am.mu.Lock()
	defer am.mu.Unlock()
	removed := 0
	for token, exp := range am.tokens {
		if !now.Before(exp) {
			delete(am.tokens, token)
			removed++
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("cleaned up expired control tokens")
	}
	return removed
}

func (am *AuthManager) TokenCount() int {
	am.mu.Lock()
	defer am.mu.Unlock()
	return len(am.tokens)
}

// token binds a sequence number and the issue time under the secret.
func (am *AuthManager) token(seq uint64) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], seq)
	binary.BigEndian.PutUint64(buf[8:], uint64(am.now().UnixNano()))
	h := hmac.New(sha256.New, am.secret)
	h.Write(buf[:])
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
