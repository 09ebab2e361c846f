package service

import (
	"slices"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
)

// Rule grants an action on a resource type to a set of roles. For
// ActionCreate, ResourceType is the type being created and the roles are
// evaluated on its parent.
type Rule struct {
	ResourceType domain.ResourceType
	Action       domain.Action
	Roles        []domain.Role
}

// Policy is the immutable rule table handed to the Engine.
type Policy struct {
	// RequireAuthenticated rejects anonymous callers before any lookup.
	RequireAuthenticated bool

	Rules []Rule
}

var (
	readers = []domain.Role{domain.RoleContributor, domain.RoleOwner, domain.RoleStaff}
	editors = []domain.Role{domain.RoleOwner, domain.RoleStaff}
)

// DefaultPolicy: contributors read and create below what they can see,
// owners and staff also update and delete. Any authenticated subject may
// start a project.
func DefaultPolicy() Policy {
	p := Policy{RequireAuthenticated: true}

	for _, t := range []domain.ResourceType{domain.ResourceProject, domain.ResourceIssue, domain.ResourceComment} {
		p.Rules = append(p.Rules,
			Rule{ResourceType: t, Action: domain.ActionRead, Roles: readers},
			Rule{ResourceType: t, Action: domain.ActionUpdate, Roles: editors},
			Rule{ResourceType: t, Action: domain.ActionDelete, Roles: editors},
		)
	}
	p.Rules = append(p.Rules,
		Rule{ResourceType: domain.ResourceProject, Action: domain.ActionCreate, Roles: append([]domain.Role{domain.RoleNone}, readers...)},
		Rule{ResourceType: domain.ResourceIssue, Action: domain.ActionCreate, Roles: readers},
		Rule{ResourceType: domain.ResourceComment, Action: domain.ActionCreate, Roles: readers},
	)
	return p
}

// Roles returns the roles granted action on resource type t.
func (p Policy) Roles(t domain.ResourceType, action domain.Action) ([]domain.Role, bool) {
	for _, r := range p.Rules {
		if r.ResourceType == t && r.Action == action {
			return r.Roles, true
		}
	}
	return nil, false
}

// Allows is the pure policy check.
func (p Policy) Allows(t domain.ResourceType, action domain.Action, role domain.Role) bool {
	roles, ok := p.Roles(t, action)
	return ok && slices.Contains(roles, role)
}
