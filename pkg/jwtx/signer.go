package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	Public() crypto.PublicKey
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
}

func (s *keySigner) Alg() string              { return s.method.Alg() }
func (s *keySigner) KID() string              { return s.kid }
func (s *keySigner) Public() crypto.PublicKey { return s.key.Public() }

// Sign takes your claims and turns them into a signed JWT string.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// NewSigner loads a PKCS8 PEM private key and picks the signing method from
// the key type: Ed25519 signs EdDSA, P-256 signs ES256.
func NewSigner(kid string, pemKey []byte) (Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("jwtx: expected PRIVATE KEY, got %q (PKCS8 required)", block.Type)
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
	}

	switch key := priv.(type) {
	case ed25519.PrivateKey:
		return &keySigner{kid: kid, method: jwt.SigningMethodEdDSA, key: key}, nil
	case *ecdsa.PrivateKey:
		if key.Curve.Params().Name != "P-256" {
			return nil, fmt.Errorf("jwtx: expected P-256 curve, got %s", key.Curve.Params().Name)
		}
		return &keySigner{kid: kid, method: jwt.SigningMethodES256, key: key}, nil
	default:
		return nil, fmt.Errorf("jwtx: unsupported private key type %T", priv)
	}
}
