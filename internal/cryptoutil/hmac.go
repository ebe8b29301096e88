package cryptoutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// tokenWindow is the acceptance window for HMAC service tokens:
// a token minted at ms-time T validates within [T-window, T+window].
const tokenWindow = 5 * time.Minute

// HMACSigner mints and validates time-bounded service-to-service bearer
// tokens of the form "<ms-ts>.<hex-sig>" where
// hex-sig = hex(HMAC-SHA256(secret, ms-ts)).
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner builds a signer around a shared secret. An empty secret is
// accepted so callers can fail closed explicitly.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

// Configured reports whether a non-empty secret was supplied.
func (s *HMACSigner) Configured() bool {
	return len(s.secret) > 0
}

// Mint returns a fresh bearer token for the given instant.
func (s *HMACSigner) Mint(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return ts + "." + hex.EncodeToString(s.sign(ts))
}

// Verify checks a bearer token of the form "<ms-ts>.<hex-sig>" against the
// configured secret, accepting timestamps within +/-5 minutes of now, using
// a constant-time comparison of the signature.
func (s *HMACSigner) Verify(token string, now time.Time) bool {
	if !s.Configured() {
		return false
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return false
	}
	tsStr, sigHex := parts[0], parts[1]

	tsMillis, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return false
	}
	ts := time.UnixMilli(tsMillis)
	delta := now.Sub(ts)
	if delta < -tokenWindow || delta > tokenWindow {
		return false
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	expected := s.sign(tsStr)
	return hmac.Equal(sig, expected)
}

func (s *HMACSigner) sign(tsStr string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(tsStr))
	return mac.Sum(nil)
}

// ParseBearer extracts the token from an "Authorization: Bearer <token>"
// header value.
func ParseBearer(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("missing bearer prefix")
	}
	return strings.TrimPrefix(header, prefix), nil
}
