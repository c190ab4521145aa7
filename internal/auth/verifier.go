//
//
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string

	// RS256
	PublicKeyPEM string

	// HS256
	SecretKey string
}

// tokenClaims is the wire shape of a token.
type tokenClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Verifier checks token signatures and extracts Claims.
type Verifier struct {
	algorithm string
	key       any
}

// NewVerifier creates a JWT verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{algorithm: config.Algorithm}

	switch config.Algorithm {
	case "RS256":
		key, err := parsePublicKeyPEM(config.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.key = key
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		v.key = []byte(config.SecretKey)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies the signature, expiry and claim shape of a token.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc,
		func(*jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{v.algorithm}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if tc.Subject == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}
	if len(tc.Scopes) == 0 {
		return nil, fmt.Errorf("missing or invalid 'scopes' claim")
	}
	for _, s := range tc.Scopes {
		if !slices.Contains(knownScopes, s) {
			return nil, fmt.Errorf("invalid scope: %q", s)
		}
	}

	return &Claims{Subject: tc.Subject, Scopes: tc.Scopes}, nil
}

func parsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}
