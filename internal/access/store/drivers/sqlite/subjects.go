package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
)

type subjectsRepo struct {
	q dbtx
}

const subjectColumns = `id, username, password_hash, staff, disabled, created_at, updated_at`

func scanSubject(row interface{ Scan(...any) error }) (domain.Subject, error) {
	var (
		s                domain.Subject
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.Username, &s.PasswordHash, &s.Staff, &s.Disabled, &created, &updated); err != nil {
		return domain.Subject{}, mapNotFound(err)
	}
	s.CreatedAt = fromUnix(created)
	s.UpdatedAt = fromUnix(updated)
	return s, nil
}

func (r *subjectsRepo) GetSubjectByID(ctx context.Context, id string) (domain.Subject, error) {
	return scanSubject(r.q.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE id = ?`, id))
}

func (r *subjectsRepo) GetSubjectByUsername(ctx context.Context, username string) (domain.Subject, error) {
	return scanSubject(r.q.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE username = ?`, username))
}

func (r *subjectsRepo) CreateSubject(ctx context.Context, s domain.Subject) error {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO subjects (id, username, password_hash, staff, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Username, s.PasswordHash, s.Staff, s.Disabled, toUnix(s.CreatedAt), toUnix(now),
	)
	return mapConstraint(err)
}

func (r *subjectsRepo) SetStaff(ctx context.Context, id string, staff bool) error {
	return requireAffected(r.q.ExecContext(ctx,
		`UPDATE subjects SET staff = ?, updated_at = ? WHERE id = ?`,
		staff, toUnix(time.Now()), id,
	))
}

func (r *subjectsRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return requireAffected(r.q.ExecContext(ctx,
		`UPDATE subjects SET disabled = ?, updated_at = ? WHERE id = ?`,
		disabled, toUnix(time.Now()), id,
	))
}
