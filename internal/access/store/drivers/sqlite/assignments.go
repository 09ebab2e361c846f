package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
)

type assignmentsRepo struct {
	q dbtx
}

func (r *assignmentsRepo) GetAssignment(
	ctx context.Context,
	subjectID, resourceID string,
) (domain.RoleAssignment, error) {
	var (
		a       domain.RoleAssignment
		role    string
		created int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT subject_id, resource_id, role, added_by, created_at
		FROM role_assignments
		WHERE subject_id = ? AND resource_id = ?`,
		subjectID, resourceID,
	).Scan(&a.SubjectID, &a.ResourceID, &role, &a.AddedBy, &created)
	if err != nil {
		return domain.RoleAssignment{}, mapNotFound(err)
	}
	a.Role = domain.Role(role)
	a.CreatedAt = fromUnix(created)
	return a, nil
}

func (r *assignmentsRepo) PutAssignment(ctx context.Context, a domain.RoleAssignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO role_assignments (subject_id, resource_id, role, added_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, resource_id)
		DO UPDATE SET role = excluded.role, added_by = excluded.added_by`,
		a.SubjectID, a.ResourceID, string(a.Role), a.AddedBy, toUnix(a.CreatedAt),
	)
	return err
}

func (r *assignmentsRepo) DeleteAssignment(ctx context.Context, subjectID, resourceID string) error {
	return requireAffected(r.q.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE subject_id = ? AND resource_id = ?`,
		subjectID, resourceID,
	))
}

func (r *assignmentsRepo) ListAssignments(ctx context.Context, resourceID string) ([]domain.RoleAssignment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT subject_id, resource_id, role, added_by, created_at
		FROM role_assignments
		WHERE resource_id = ?
		ORDER BY created_at, subject_id`,
		resourceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RoleAssignment
	for rows.Next() {
		var (
			a       domain.RoleAssignment
			role    string
			created int64
		)
		if err := rows.Scan(&a.SubjectID, &a.ResourceID, &role, &a.AddedBy, &created); err != nil {
			return nil, err
		}
		a.Role = domain.Role(role)
		a.CreatedAt = fromUnix(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
