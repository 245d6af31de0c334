package nonce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is returned when a nonce fails verification, whether tampered,
// minted for another client, or older than two validity windows.
var ErrInvalid = errors.New("nonce invalid or expired")

// nonces keep only a short prefix of the HMAC; they guard against cross-site
// request forgery, not against an attacker holding the signing secret
const nonceLength = 12

// SecretSource yields the signing secret shared with the token codec.
type SecretSource interface {
	Secret() ([]byte, error)
}

// Service issues and verifies anti-forgery nonces bound to a client context.
// A nonce is the truncated HMAC of an action label, a coarse time tick and
// the client key. It stays valid for the tick it was minted in plus the
// following one, giving between one and two windows of life without any
// server-side state.
type Service struct {
	action  string
	ttl     time.Duration
	secrets SecretSource
	now     func() time.Time
}

// NewService creates a nonce service for one action label.
func NewService(action string, ttl time.Duration, secrets SecretSource) *Service {
	return &Service{
		action:  action,
		ttl:     ttl,
		secrets: secrets,
		now:     time.Now,
	}
}

// Create mints a nonce for the given client key.
func (s *Service) Create(clientKey string) (string, error) {
	return s.at(s.tick(), clientKey)
}

// Verify checks a nonce for the given client key against the current and the
// previous tick.
func (s *Service) Verify(nonceStr, clientKey string) error {
	if nonceStr == "" {
		return ErrInvalid
	}

	tick := s.tick()
	for _, t := range []int64{tick, tick - 1} {
		expected, err := s.at(t, clientKey)
		if err != nil {
			return err
		}
		if hmac.Equal([]byte(expected), []byte(nonceStr)) {
			return nil
		}
	}
	return ErrInvalid
}

// tick returns the current validity window index.
func (s *Service) tick() int64 {
	return s.now().Unix() / int64(s.ttl.Seconds())
}

// at computes the nonce value for one tick and client key.
func (s *Service) at(tick int64, clientKey string) (string, error) {
	secret, err := s.secrets.Secret()
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s|%d|%s", s.action, tick, clientKey)
	return hex.EncodeToString(mac.Sum(nil))[:nonceLength], nil
}
