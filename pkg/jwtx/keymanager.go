package jwtx

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/aussiebroadwan/trackgate/pkg/cryptox"
)

// Supported JWT signing algorithms
const (
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// KeyManager owns the signing keys of one instance. Keys are generated at
// start-up and live only in memory, so a restart invalidates every
// outstanding token.
type KeyManager struct {
	Verifier  Verifier
	KeySet    *KeySet
	algorithm string
	issuer    string

	mu      sync.RWMutex
	signers []Signer
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	// Algorithm is "EdDSA" (default) or "ES256".
	Algorithm string

	// Issuer is stamped into and required on every token.
	Issuer string

	// NumKeys is how many signing keys to generate. Defaults to 3, capped at 10.
	NumKeys int
}

// NewKeyManager generates opts.NumKeys signing keys and a verifier that
// accepts any of them.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwtx: Issuer is required")
	}
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmEdDSA
	}

	numKeys := opts.NumKeys
	if numKeys <= 0 {
		numKeys = 3
	}
	numKeys = min(numKeys, 10)

	km := &KeyManager{
		KeySet:    NewKeySet(),
		algorithm: opts.Algorithm,
		issuer:    opts.Issuer,
	}
	km.Verifier = NewVerifier(km.KeySet, opts.Issuer)

	for i := range numKeys {
		signer, err := GenerateSigner(opts.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate signer %d: %w", i+1, err)
		}
		km.AddSigner(signer)
	}

	return km, nil
}

// GenerateSigner creates a signer with a fresh key and random kid.
func GenerateSigner(algorithm string) (Signer, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key ID: %w", err)
	}
	kid := "trackgate-" + token

	var pemBytes []byte
	switch algorithm {
	case AlgorithmES256:
		pemBytes, err = cryptox.GenerateES256Key()
	case AlgorithmEdDSA:
		pemBytes, err = cryptox.GenerateEd25519Key()
	default:
		return nil, fmt.Errorf("unsupported algorithm %q (supported: ES256, EdDSA)", algorithm)
	}
	if err != nil {
		return nil, err
	}

	return NewSigner(kid, pemBytes)
}

func (km *KeyManager) Algorithm() string { return km.algorithm }

// Issuer is the iss claim stamped into and required on every token.
func (km *KeyManager) Issuer() string { return km.issuer }

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool {
	return km.NumSigners() > 0 && km.KeySet.IsReady()
}

// GetSigner returns a randomly selected signer.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	}
	return km.signers[rand.IntN(len(km.signers))]
}

// Sign signs claims with one of the active keys.
func (km *KeyManager) Sign(claims Claims) (string, error) {
	signer := km.GetSigner()
	if signer == nil {
		return "", fmt.Errorf("jwtx: no signing keys")
	}
	return signer.Sign(claims)
}

func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// AddSigner makes a signer available for signing and verification.
func (km *KeyManager) AddSigner(signer Signer) {
	km.mu.Lock()
	defer km.mu.Unlock()

	km.KeySet.Add(signer)
	km.signers = append(km.signers, signer)
}
