package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Decode failure variants. Callers at the streaming boundary collapse all of
// these into a single client-facing rejection; the distinction exists for
// logging and tests only.
var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature mismatch")
	ErrExpired      = errors.New("token expired")
)

// Claims is the structured payload carried inside a capability token.
// Everything here is plaintext-visible to the bearer; the codec provides
// tamper-evidence and expiry, not confidentiality.
type Claims struct {
	VideoID int64  `json:"video_id"`     // resource identifier
	Quality string `json:"quality"`      // quality tag: hd, sd or ld
	URL     string `json:"url"`          // resolved source URL for that quality
	Exp     int64  `json:"exp"`          // expiry, unix seconds
	Iat     int64  `json:"iat"`          // issued-at, unix seconds
	IP      string `json:"ip,omitempty"` // bound requester address, empty when unknown
	UserID  int64  `json:"user_id"`      // requester identity, 0 = anonymous
}

// tokenHeader is the fixed metadata segment. It carries no secret data and
// never varies between tokens.
type tokenHeader struct {
	Typ string `json:"typ"`
	Alg string `json:"alg"`
}

// Encode serializes the claims into a three-segment signed token:
// base64(header) + "." + base64(payload) + "." + hex(HMAC-SHA256).
func Encode(claims *Claims, secret []byte) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Typ: "JWT", Alg: "HS256"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	header := base64.StdEncoding.EncodeToString(headerJSON)
	payload := base64.StdEncoding.EncodeToString(payloadJSON)
	signature := sign(header+"."+payload, secret)

	return header + "." + payload + "." + signature, nil
}

// Decode validates a token string against the current secret and returns its
// claims. Validation order matters: structure first, then signature over the
// raw segments, then payload decoding, then expiry against the wall clock.
func Decode(tokenStr string, secret []byte) (*Claims, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	expected := sign(parts[0]+"."+parts[1], secret)
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, ErrBadSignature
	}

	payloadJSON, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}

	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, ErrMalformed
	}
	if claims.VideoID <= 0 || claims.URL == "" {
		return nil, ErrMalformed
	}

	if claims.Exp < time.Now().Unix() {
		return nil, ErrExpired
	}

	return &claims, nil
}

// sign computes the hex HMAC-SHA256 of the given signing input.
func sign(input string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil))
}
