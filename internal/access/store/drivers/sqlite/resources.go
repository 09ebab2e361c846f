package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
)

type resourcesRepo struct {
	q dbtx
}

func scanResource(row interface{ Scan(...any) error }) (domain.Resource, error) {
	var (
		res     domain.Resource
		typ     string
		parent  sql.NullString
		created int64
	)
	if err := row.Scan(&res.ID, &typ, &res.OwnerID, &parent, &created); err != nil {
		return domain.Resource{}, err
	}
	res.Type = domain.ResourceType(typ)
	res.ParentID = mapNullString(parent)
	res.CreatedAt = fromUnix(created)
	return res, nil
}

func (r *resourcesRepo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	res, err := scanResource(r.q.QueryRowContext(ctx,
		`SELECT id, type, owner_id, parent_id, created_at FROM resources WHERE id = ?`, id))
	if err != nil {
		return domain.Resource{}, mapNotFound(err)
	}
	return res, nil
}

func (r *resourcesRepo) CreateResource(ctx context.Context, res domain.Resource) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO resources (id, type, owner_id, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		res.ID, string(res.Type), res.OwnerID, mapStringNull(res.ParentID), toUnix(res.CreatedAt),
	)
	return mapConstraint(err)
}

// DeleteResource relies on ON DELETE CASCADE for children and assignments.
func (r *resourcesRepo) DeleteResource(ctx context.Context, id string) error {
	return requireAffected(r.q.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id))
}

func (r *resourcesRepo) ListVisible(
	ctx context.Context,
	p domain.Predicate,
	parentID string,
) ([]domain.Resource, error) {
	if p.Empty() {
		return []domain.Resource{}, nil
	}

	query, args := visibleQuery(p, parentID)
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Resource{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// visibleFrom joins each row to its (at most two) ancestors and to the
// subject's direct assignment at every level. All joins are keyed lookups.
const visibleFrom = `
SELECT r0.id, r0.type, r0.owner_id, r0.parent_id, r0.created_at
FROM resources r0
LEFT JOIN resources r1 ON r1.id = r0.parent_id
LEFT JOIN resources r2 ON r2.id = r1.parent_id
LEFT JOIN role_assignments a0 ON a0.resource_id = r0.id AND a0.subject_id = ?
LEFT JOIN role_assignments a1 ON a1.resource_id = r1.id AND a1.subject_id = ?
LEFT JOIN role_assignments a2 ON a2.resource_id = r2.id AND a2.subject_id = ?
WHERE r0.type = ?`

// ownedClause is true when the subject owns the row or an ancestor. Missing
// ancestors are coalesced so the clause never evaluates to NULL.
const ownedClause = `(r0.owner_id = ? OR COALESCE(r1.owner_id, '') = ? OR COALESCE(r2.owner_id, '') = ?)`

func visibleQuery(p domain.Predicate, parentID string) (string, []any) {
	sub := p.SubjectID
	args := []any{sub, sub, sub, string(p.ResourceType)}

	var b strings.Builder
	b.WriteString(visibleFrom)

	if parentID != "" {
		b.WriteString(" AND r0.parent_id = ?")
		args = append(args, parentID)
	}

	if !p.Unrestricted {
		var clauses []string
		if p.Owned {
			clauses = append(clauses, ownedClause)
			args = append(args, sub, sub, sub)
		}
		if len(p.AssignedRoles) > 0 {
			// The most specific assignment decides, hence the COALESCE order.
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(p.AssignedRoles)), ", ")
			clauses = append(clauses,
				"(NOT "+ownedClause+" AND COALESCE(a0.role, a1.role, a2.role) IN ("+placeholders+"))")
			args = append(args, sub, sub, sub)
			for _, role := range p.AssignedRoles {
				args = append(args, string(role))
			}
		}
		b.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	}

	b.WriteString(" ORDER BY r0.created_at, r0.id")
	return b.String(), args
}
