package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emusync/emusync/internal/errors"
)

// Claims is the payload carried inside a bearer token.
type Claims struct {
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id,omitempty"`
	StorageKey string `json:"storage_key"`
	VersionID  string `json:"version_id"`
	Exp        int64  `json:"exp"`
}

// Expired reports whether the token's expiry is in the past. A zero
// Exp never expires.
func (c Claims) Expired(now time.Time) bool {
	return c.Exp != 0 && now.Unix() > c.Exp
}

// TokenSigner mints and verifies compact two-part bearer tokens:
// base64url JSON claims, a dot, and a base64url HMAC-SHA256 signature
// over the encoded claims. Verification accepts the primary key plus
// an optional rotated key so a key rotation does not invalidate
// sessions issued just before it.
type TokenSigner struct {
	primary []byte
	rotated [][]byte
}

// NewTokenSigner builds a signer. primary signs; rotated keys only
// verify.
func NewTokenSigner(primary []byte, rotated ...[]byte) *TokenSigner {
	return &TokenSigner{primary: primary, rotated: rotated}
}

// Sign serializes the claims and appends the signature.
func (s *TokenSigner) Sign(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encoding claims: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.signature([]byte(body), s.primary), nil
}

// Verify checks the signature against every accepted key and rejects
// expired tokens. All failures map to ErrUnauthorized.
func (s *TokenSigner) Verify(token string, now time.Time) (Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, fmt.Errorf("malformed token: %w", errors.ErrUnauthorized)
	}

	if !s.signatureValid([]byte(body), sig) {
		return Claims{}, fmt.Errorf("bad token signature: %w", errors.ErrUnauthorized)
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, fmt.Errorf("malformed token body: %w", errors.ErrUnauthorized)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("malformed token claims: %w", errors.ErrUnauthorized)
	}

	if claims.Expired(now) {
		return Claims{}, fmt.Errorf("token expired: %w", errors.ErrUnauthorized)
	}

	return claims, nil
}

func (s *TokenSigner) signatureValid(body []byte, sig string) bool {
	keys := append([][]byte{s.primary}, s.rotated...)
	for _, key := range keys {
		if hmac.Equal([]byte(s.signature(body, key)), []byte(sig)) {
			return true
		}
	}
	return false
}

func (s *TokenSigner) signature(body, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
