// Package auth is the connection-time identity boundary.
//
// Credential handling (login, OAuth, password storage) lives in the platform's
// account service; this package only verifies the signed token that service
// issues and extracts the authenticated user id and role flags. The realtime
// core trusts the resulting Identity without re-validating credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role flags carried in the token.
const (
	RoleSupport = "support"
	RoleAdmin   = "admin"
)

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	UserID string
	Roles  []string
}

// IsSupport reports whether the identity holds a support-agent or admin role.
func (id Identity) IsSupport() bool {
	for _, r := range id.Roles {
		if r == RoleSupport || r == RoleAdmin {
			return true
		}
	}
	return false
}

// Verifier validates a bearer token and returns the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Verification errors.
var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// claims is the expected token claim set.
type claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256-signed tokens issued by the account service.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a verifier from a shared HMAC secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 32 {
		return nil, errors.New("auth: token secret too short (min 32 bytes)")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates the token signature, expiry, and subject.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: sub, Roles: c.Roles}, nil
}
