package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
)

// RoleResolver computes a subject's effective role on a resource by walking
// the resource's ancestry. Every step is a keyed lookup.
type RoleResolver struct {
	store store.Store
}

func NewRoleResolver(st store.Store) *RoleResolver {
	return &RoleResolver{store: st}
}

// Resolve returns the effective role of subjectID on resourceID and the
// resource itself.
//
// Ownership of the resource or any ancestor wins, then the staff flag, then
// the most specific direct assignment found while walking up. A missing
// resource yields store.ErrNotFound; a malformed ancestry yields
// ErrIntegrity.
func (r *RoleResolver) Resolve(ctx context.Context, subjectID, resourceID string) (domain.Role, domain.Resource, error) {
	target, err := r.store.Resources().GetResource(ctx, resourceID)
	if err != nil {
		return domain.RoleNone, domain.Resource{}, fmt.Errorf("resolve %q: %w", resourceID, err)
	}

	var (
		assigned domain.Role
		found    bool
		seen     = map[string]bool{target.ID: true}
		cur      = target
	)
	for depth := 1; ; depth++ {
		if subjectID != "" && cur.OwnerID == subjectID {
			return domain.RoleOwner, target, nil
		}

		if !found && subjectID != "" {
			a, err := r.store.Assignments().GetAssignment(ctx, subjectID, cur.ID)
			switch {
			case err == nil:
				assigned, found = a.Role, true
			case !errors.Is(err, store.ErrNotFound):
				return domain.RoleNone, domain.Resource{}, fmt.Errorf("load assignment on %q: %w", cur.ID, err)
			}
		}

		if cur.ParentID == "" {
			if _, needsParent := cur.Type.ParentType(); needsParent {
				return domain.RoleNone, domain.Resource{}, fmt.Errorf("%w: %s %q has no parent", ErrIntegrity, cur.Type, cur.ID)
			}
			break
		}

		if depth >= domain.MaxDepth || seen[cur.ParentID] {
			return domain.RoleNone, domain.Resource{}, fmt.Errorf("%w: ancestry of %q is too deep or cyclic", ErrIntegrity, resourceID)
		}
		seen[cur.ParentID] = true

		parent, err := r.store.Resources().GetResource(ctx, cur.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.RoleNone, domain.Resource{}, fmt.Errorf("%w: parent %q of %q is missing", ErrIntegrity, cur.ParentID, cur.ID)
			}
			return domain.RoleNone, domain.Resource{}, fmt.Errorf("load parent of %q: %w", cur.ID, err)
		}
		if want, _ := cur.Type.ParentType(); parent.Type != want {
			return domain.RoleNone, domain.Resource{}, fmt.Errorf("%w: %s %q hangs off %s %q", ErrIntegrity, cur.Type, cur.ID, parent.Type, parent.ID)
		}
		cur = parent
	}

	staff, err := r.IsStaff(ctx, subjectID)
	if err != nil {
		return domain.RoleNone, domain.Resource{}, err
	}
	switch {
	case staff:
		return domain.RoleStaff, target, nil
	case found:
		return assigned, target, nil
	default:
		return domain.RoleNone, target, nil
	}
}

// IsStaff reports whether subjectID is an enabled staff member. Unknown
// subjects are not staff.
func (r *RoleResolver) IsStaff(ctx context.Context, subjectID string) (bool, error) {
	if subjectID == "" {
		return false, nil
	}
	s, err := r.store.Subjects().GetSubjectByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load subject: %w", err)
	}
	return s.Staff && !s.Disabled, nil
}
