// Package memory keeps credential records in process memory. Records expire
// with their tokens and are evicted lazily on read, or eagerly once Start has
// been called.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/jellydator/ttlcache/v3"
)

// minTTL keeps already expired records around briefly so a Put followed by a
// Get behaves the same as in the durable backends.
const minTTL = time.Second

type Credentials struct {
	// mu serialises writers so Transition is a compare-and-set.
	mu    sync.Mutex
	cache *ttlcache.Cache[string, domain.CredentialRecord]
}

var _ store.Credentials = (*Credentials)(nil)

func NewCredentials() *Credentials {
	return &Credentials{
		cache: ttlcache.New[string, domain.CredentialRecord](
			ttlcache.WithDisableTouchOnHit[string, domain.CredentialRecord](),
		),
	}
}

// Start runs the eviction loop until Stop is called.
func (c *Credentials) Start() { go c.cache.Start() }

func (c *Credentials) Stop() { c.cache.Stop() }

func ttlUntil(t time.Time) time.Duration {
	return max(time.Until(t), minTTL)
}

func (c *Credentials) Get(_ context.Context, tokenID string) (domain.CredentialRecord, error) {
	item := c.cache.Get(tokenID)
	if item == nil {
		return domain.CredentialRecord{}, store.ErrNotFound
	}
	return item.Value(), nil
}

func (c *Credentials) Put(_ context.Context, rec domain.CredentialRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache.Has(rec.TokenID) {
		return store.ErrAlreadyExists
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.IssuedAt
	}
	c.cache.Set(rec.TokenID, rec, ttlUntil(rec.ExpiresAt))
	return nil
}

func (c *Credentials) Transition(
	_ context.Context,
	tokenID string,
	from, to domain.CredentialStatus,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.transitionLocked(tokenID, from, to)
}

func (c *Credentials) transitionLocked(tokenID string, from, to domain.CredentialStatus) error {
	item := c.cache.Get(tokenID)
	if item == nil {
		return store.ErrNotFound
	}

	rec := item.Value()
	if rec.Status != from {
		return store.ErrStatusConflict
	}

	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	c.cache.Set(tokenID, rec, ttlUntil(item.ExpiresAt()))
	return nil
}

func (c *Credentials) RevokeSession(_ context.Context, sessionID string) (int, error) {
	return c.revokeWhere(func(rec domain.CredentialRecord) bool {
		return rec.SessionID == sessionID
	}), nil
}

func (c *Credentials) RevokeSubject(_ context.Context, subjectID string) (int, error) {
	return c.revokeWhere(func(rec domain.CredentialRecord) bool {
		return rec.SubjectID == subjectID
	}), nil
}

func (c *Credentials) revokeWhere(match func(domain.CredentialRecord) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	// Items returns a copy, so updating while iterating is safe.
	for key, item := range c.cache.Items() {
		rec := item.Value()
		if rec.Status != domain.StatusActive || !match(rec) {
			continue
		}
		if err := c.transitionLocked(key, domain.StatusActive, domain.StatusRevoked); err == nil {
			n++
		}
	}
	return n
}

func (c *Credentials) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, item := range c.cache.Items() {
		if item.Value().ExpiresAt.Before(before) {
			c.cache.Delete(key)
			n++
		}
	}
	c.cache.DeleteExpired()
	return n, nil
}
