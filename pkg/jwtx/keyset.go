package jwtx

import (
	"crypto"
	"sync"
)

// KeySet holds the public verification keys by kid. Retired signers stay
// here so tokens they issued keep verifying until they expire.
type KeySet struct {
	mu  sync.RWMutex
	pub map[string]crypto.PublicKey
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{pub: make(map[string]crypto.PublicKey)}
}

// Add registers a signer's public key.
func (k *KeySet) Add(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pub[s.KID()] = s.Public()
}

// Get returns the public key for the given kid.
func (k *KeySet) Get(kid string) (crypto.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pk, ok := k.pub[kid]; ok {
		return pk, nil
	}
	return nil, ErrUnknownKID
}

// IsReady returns true if the KeySet has at least one key loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.pub) > 0
}
