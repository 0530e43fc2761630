// Package auth verifies bearer credentials issued by the identity provider.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer credential was supplied.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken is returned for malformed, expired or badly signed tokens.
	ErrInvalidToken = errors.New("auth: invalid bearer token")
)

// Identity is the verified caller.
type Identity struct {
	UserID        string
	Email         string
	EmailVerified bool
}

// Claims are the token claims the backend relies on.
type Claims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Verifier validates signed JWT bearer tokens.
type Verifier struct {
	rsaKey  *rsa.PublicKey
	hmacKey []byte
	opts    []jwt.ParserOption
}

type Option func(*Verifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) Option {
	return func(v *Verifier) {
		if iss = strings.TrimSpace(iss); iss != "" {
			v.opts = append(v.opts, jwt.WithIssuer(iss))
		}
	}
}

// WithAudience requires the aud claim to contain aud.
func WithAudience(aud string) Option {
	return func(v *Verifier) {
		if aud = strings.TrimSpace(aud); aud != "" {
			v.opts = append(v.opts, jwt.WithAudience(aud))
		}
	}
}

// WithTimeFunc overrides the clock used for exp/nbf/iat checks.
func WithTimeFunc(now func() time.Time) Option {
	return func(v *Verifier) {
		v.opts = append(v.opts, jwt.WithTimeFunc(now))
	}
}

// NewVerifier builds a Verifier from the issuer's key material. A PEM encoded
// RSA public key or certificate selects RS256; anything else is used as an
// HS256 shared secret.
func NewVerifier(keyMaterial string, opts ...Option) (*Verifier, error) {
	keyMaterial = strings.TrimSpace(keyMaterial)
	if keyMaterial == "" {
		return nil, errors.New("auth: key material must not be empty")
	}
	v := &Verifier{opts: []jwt.ParserOption{jwt.WithExpirationRequired()}}
	if strings.HasPrefix(keyMaterial, "-----BEGIN") {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(keyMaterial))
		if err != nil {
			return nil, fmt.Errorf("auth: parse RSA public key: %w", err)
		}
		v.rsaKey = key
		v.opts = append(v.opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	} else {
		v.hmacKey = []byte(keyMaterial)
		v.opts = append(v.opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

// Verify validates the token and returns the caller identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrMissingToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.keyFunc, v.opts...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("token not valid")
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{
		UserID:        claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.rsaKey != nil {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.rsaKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.hmacKey, nil
}
