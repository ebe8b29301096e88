package cryptoutil

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// AppJWTSigner mints the short-lived RS256 JWT used to authenticate as the
// GitHub App itself when exchanging for an installation-scoped token:
// header {alg:"RS256", typ:"JWT"}, claims {iat, exp, iss}.
type AppJWTSigner struct {
	appID      string
	privateKey *rsa.PrivateKey
}

// NewAppJWTSigner parses a PEM-encoded RSA private key and binds it to the
// app id used as the "iss" claim.
func NewAppJWTSigner(appID string, privateKeyPEM []byte) (*AppJWTSigner, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	return &AppJWTSigner{appID: appID, privateKey: key}, nil
}

// Mint signs a fresh assertion valid from now-60s to now+600s.
func (s *AppJWTSigner) Mint(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iat": now.Add(-60 * time.Second).Unix(),
		"exp": now.Add(600 * time.Second).Unix(),
		"iss": s.appID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app assertion: %w", err)
	}
	return signed, nil
}
