// Package redis stores credential records in Redis so several instances of
// the service share revocation state. Each record is a hash whose TTL
// matches the token's expiry; per-session and per-subject sets index the
// records for bulk revocation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "trackgate:"

// minTTL matches the memory backend: an already expired record stays
// readable for a moment after Put.
const minTTL = time.Second

// putScript inserts a record unless the key exists and extends the index
// sets so they outlive their longest member.
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'subject_id', ARGV[1], 'session_id', ARGV[2], 'type', ARGV[3], 'status', ARGV[4],
	'issued_at', ARGV[5], 'expires_at', ARGV[6], 'updated_at', ARGV[7])
redis.call('PEXPIRE', KEYS[1], ARGV[8])
for i = 2, 3 do
	redis.call('SADD', KEYS[i], ARGV[9])
	if redis.call('PTTL', KEYS[i]) < tonumber(ARGV[8]) then
		redis.call('PEXPIRE', KEYS[i], ARGV[8])
	end
end
return 1
`)

// transitionScript is the compare-and-set: -1 missing, 0 conflict, 1 done.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
	return -1
end
if cur ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

type Credentials struct {
	client redis.UniversalClient
	prefix string
}

var _ store.Credentials = (*Credentials)(nil)

func NewCredentials(client redis.UniversalClient, prefix string) *Credentials {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Credentials{client: client, prefix: prefix}
}

// Ping reports whether Redis answers.
func (c *Credentials) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Credentials) credKey(tokenID string) string      { return c.prefix + "cred:" + tokenID }
func (c *Credentials) sessionKey(sessionID string) string { return c.prefix + "sess:" + sessionID }
func (c *Credentials) subjectKey(subjectID string) string { return c.prefix + "subj:" + subjectID }

func (c *Credentials) Get(ctx context.Context, tokenID string) (domain.CredentialRecord, error) {
	fields, err := c.client.HGetAll(ctx, c.credKey(tokenID)).Result()
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("redis: get credential: %w", err)
	}
	if len(fields) == 0 {
		return domain.CredentialRecord{}, store.ErrNotFound
	}
	return decodeRecord(tokenID, fields)
}

func (c *Credentials) Put(ctx context.Context, rec domain.CredentialRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.IssuedAt
	}
	ttl := max(time.Until(rec.ExpiresAt), minTTL)

	keys := []string{c.credKey(rec.TokenID), c.sessionKey(rec.SessionID), c.subjectKey(rec.SubjectID)}
	created, err := putScript.Run(ctx, c.client, keys,
		rec.SubjectID,
		rec.SessionID,
		string(rec.Type),
		string(rec.Status),
		encodeTime(rec.IssuedAt),
		encodeTime(rec.ExpiresAt),
		encodeTime(rec.UpdatedAt),
		ttl.Milliseconds(),
		rec.TokenID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis: put credential: %w", err)
	}
	if created == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (c *Credentials) Transition(
	ctx context.Context,
	tokenID string,
	from, to domain.CredentialStatus,
) error {
	res, err := transitionScript.Run(ctx, c.client, []string{c.credKey(tokenID)},
		string(from), string(to), encodeTime(time.Now()),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: transition credential: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return store.ErrStatusConflict
	default:
		return store.ErrNotFound
	}
}

func (c *Credentials) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	return c.revokeIndex(ctx, c.sessionKey(sessionID))
}

func (c *Credentials) RevokeSubject(ctx context.Context, subjectID string) (int, error) {
	return c.revokeIndex(ctx, c.subjectKey(subjectID))
}

func (c *Credentials) revokeIndex(ctx context.Context, indexKey string) (int, error) {
	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: read index: %w", err)
	}

	n := 0
	for _, tokenID := range members {
		err := c.Transition(ctx, tokenID, domain.StatusActive, domain.StatusRevoked)
		switch {
		case err == nil:
			n++
		case errors.Is(err, store.ErrStatusConflict):
		case errors.Is(err, store.ErrNotFound):
			// Expired and evicted by Redis, drop it from the index.
			_ = c.client.SRem(ctx, indexKey, tokenID).Err()
		default:
			return n, err
		}
	}
	return n, nil
}

// DeleteExpired is a no-op: Redis evicts records when their TTL runs out.
func (c *Credentials) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

func decodeTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func decodeRecord(tokenID string, fields map[string]string) (domain.CredentialRecord, error) {
	rec := domain.CredentialRecord{
		TokenID:   tokenID,
		SubjectID: fields["subject_id"],
		SessionID: fields["session_id"],
		Type:      domain.TokenType(fields["type"]),
		Status:    domain.CredentialStatus(fields["status"]),
	}

	var err error
	if rec.IssuedAt, err = decodeTime(fields["issued_at"]); err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("redis: decode issued_at: %w", err)
	}
	if rec.ExpiresAt, err = decodeTime(fields["expires_at"]); err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("redis: decode expires_at: %w", err)
	}
	if rec.UpdatedAt, err = decodeTime(fields["updated_at"]); err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("redis: decode updated_at: %w", err)
	}
	return rec, nil
}
