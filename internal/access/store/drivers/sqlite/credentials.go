package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
)

type credentialsRepo struct {
	q dbtx
}

func (r *credentialsRepo) Get(ctx context.Context, tokenID string) (domain.CredentialRecord, error) {
	var (
		rec                      domain.CredentialRecord
		typ, status              string
		issued, expires, updated int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT token_id, subject_id, session_id, type, status, issued_at, expires_at, updated_at
		FROM credentials
		WHERE token_id = ?`,
		tokenID,
	).Scan(&rec.TokenID, &rec.SubjectID, &rec.SessionID, &typ, &status, &issued, &expires, &updated)
	if err != nil {
		return domain.CredentialRecord{}, mapNotFound(err)
	}
	rec.Type = domain.TokenType(typ)
	rec.Status = domain.CredentialStatus(status)
	rec.IssuedAt = fromUnix(issued)
	rec.ExpiresAt = fromUnix(expires)
	rec.UpdatedAt = fromUnix(updated)
	return rec, nil
}

func (r *credentialsRepo) Put(ctx context.Context, rec domain.CredentialRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.IssuedAt
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credentials (token_id, subject_id, session_id, type, status, issued_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TokenID, rec.SubjectID, rec.SessionID, string(rec.Type), string(rec.Status),
		toUnix(rec.IssuedAt), toUnix(rec.ExpiresAt), toUnix(rec.UpdatedAt),
	)
	return mapConstraint(err)
}

// Transition is a conditional update; the status predicate in the WHERE
// clause makes it a compare-and-set.
func (r *credentialsRepo) Transition(
	ctx context.Context,
	tokenID string,
	from, to domain.CredentialStatus,
) error {
	err := requireAffected(r.q.ExecContext(ctx, `
		UPDATE credentials SET status = ?, updated_at = ?
		WHERE token_id = ? AND status = ?`,
		string(to), toUnix(time.Now()), tokenID, string(from),
	))
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// Nothing changed: either the record is gone or it moved on already.
	var one int
	err = r.q.QueryRowContext(ctx, `SELECT 1 FROM credentials WHERE token_id = ?`, tokenID).Scan(&one)
	if err != nil {
		return mapNotFound(err)
	}
	return store.ErrStatusConflict
}

func (r *credentialsRepo) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	return affected(r.q.ExecContext(ctx, `
		UPDATE credentials SET status = 'revoked', updated_at = ?
		WHERE session_id = ? AND status = 'active'`,
		toUnix(time.Now()), sessionID,
	))
}

func (r *credentialsRepo) RevokeSubject(ctx context.Context, subjectID string) (int, error) {
	return affected(r.q.ExecContext(ctx, `
		UPDATE credentials SET status = 'revoked', updated_at = ?
		WHERE subject_id = ? AND status = 'active'`,
		toUnix(time.Now()), subjectID,
	))
}

func (r *credentialsRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return affected(r.q.ExecContext(ctx,
		`DELETE FROM credentials WHERE expires_at < ?`,
		toUnix(before),
	))
}
