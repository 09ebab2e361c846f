package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks a token's signature and issuer and returns its claims.
// Time based claims are left to the caller, who owns the clock.
type Verifier interface {
	Verify(token string) (Claims, error)
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

type keySetVerifier struct {
	keys   *KeySet
	issuer string
	parser *jwt.Parser
}

// NewVerifier returns a Verifier resolving keys by kid from keys. Only
// EdDSA and ES256 are accepted.
func NewVerifier(keys *KeySet, issuer string) Verifier {
	return &keySetVerifier{
		keys:   keys,
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), jwt.SigningMethodES256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (v *keySetVerifier) Verify(tokenStr string) (Claims, error) {
	var claims Claims
	token, err := v.parser.ParseWithClaims(tokenStr, &claims, v.keyFunc)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		case errors.Is(err, ErrUnknownKID), errors.Is(err, ErrAlgMismatch):
			return Claims{}, err
		default:
			return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSig, err)
		}
	}
	if !token.Valid {
		return Claims{}, ErrInvalidSig
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	if claims.ID == "" || claims.Subject == "" {
		return Claims{}, ErrInvalidClaim
	}

	return claims, nil
}

func (v *keySetVerifier) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
	}

	pub, err := v.keys.Get(kid)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
	}

	// The header alg must agree with the key type, not just be allowed.
	switch key := pub.(type) {
	case ed25519.PublicKey:
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, ErrAlgMismatch
		}
		return key, nil
	case *ecdsa.PublicKey:
		if t.Method != jwt.SigningMethodES256 {
			return nil, ErrAlgMismatch
		}
		return key, nil
	default:
		return nil, ErrAlgMismatch
	}
}
