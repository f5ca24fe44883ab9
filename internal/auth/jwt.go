// Package auth issues and verifies the single bearer token that guards the
// management RPC surface (internal/management). There are no user
// accounts, passwords, or per-caller roles — the token proves only that the
// caller holds the secret the host was started with.
package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// managementSubject is the fixed "sub" claim on every minted token; there
// is exactly one principal this token can represent.
const managementSubject = "faasd-management"

// Claims holds the JWT claims for a management token.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService issues and verifies HMAC-signed management bearer tokens. It
// can additionally be configured with a pre-shared secret (FAASD_TOKEN) that
// Verify accepts directly, without requiring a signed JWT.
type TokenService struct {
	secret    []byte
	duration  time.Duration
	preshared []byte
}

// NewTokenService creates a token service with the given HMAC secret and
// token lifetime. A zero duration mints tokens that never expire, for the
// common case of a single long-lived operator token.
func NewTokenService(secret []byte, duration time.Duration) *TokenService {
	return &TokenService{secret: secret, duration: duration}
}

// SetPresharedToken configures a raw bearer value that Verify accepts
// directly, in addition to signed JWTs. This is how FAASD_TOKEN is wired:
// an operator sets it to a literal value and presents that same value as
// "Authorization: Bearer <value>" without ever calling Issue.
func (ts *TokenService) SetPresharedToken(token string) {
	ts.preshared = []byte(token)
}

// Issue mints a signed management token.
func (ts *TokenService) Issue() (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  managementSubject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ts.duration != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ts.duration))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a management token. If a pre-shared token was
// configured via SetPresharedToken, an exact (constant-time) match against
// it is accepted without requiring a signed JWT.
func (ts *TokenService) Verify(tokenString string) (*Claims, error) {
	if len(ts.preshared) > 0 && subtle.ConstantTimeCompare(ts.preshared, []byte(tokenString)) == 1 {
		return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: managementSubject}}, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject != managementSubject {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
