package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiebroadwan/trackgate/pkg/idx"
)

// Token types carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims are the JWT claims of both access and refresh tokens. The jti is
// the key of the server-side credential record.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, stable across refreshes of the same login
	SID string `json:"sid,omitempty"`

	// Token type, "access" or "refresh"
	Type string `json:"typ"`
}

// NewClaims builds claims for a token of the given type issued at now.
func NewClaims(subject, sid, typ, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        idx.NewAt(now).String(),
		},
		SID:  sid,
		Type: typ,
	}
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateTimes checks exp and nbf against the supplied clock. Expiry is
// strict; leeway only tolerates an issuer clock running ahead on nbf.
func (c *Claims) ValidateTimes(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
