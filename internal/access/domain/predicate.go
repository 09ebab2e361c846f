package domain

import "slices"

// Predicate restricts a list query to the rows a subject may read. Data
// access layers translate it into their own query language so hidden rows
// are never loaded.
//
// A row is visible when any of the following holds:
//   - Unrestricted is set
//   - Owned is set and the subject owns the row or one of its ancestors
//   - the subject owns nothing in the chain and the most specific direct
//     assignment in the chain carries a role in AssignedRoles
type Predicate struct {
	ResourceType  ResourceType
	SubjectID     string
	Unrestricted  bool
	Owned         bool
	AssignedRoles []Role
}

// Empty reports a predicate that can match nothing.
func (p Predicate) Empty() bool {
	return !p.Unrestricted && !p.Owned && len(p.AssignedRoles) == 0
}

// Matches evaluates the predicate against an already loaded ancestry.
// chain[0] is the row itself followed by its parents; assigned maps a
// resource id to the subject's direct role on it.
func (p Predicate) Matches(chain []Resource, assigned map[string]Role) bool {
	if len(chain) == 0 || chain[0].Type != p.ResourceType {
		return false
	}
	if p.Unrestricted {
		return true
	}

	for _, r := range chain {
		if r.OwnerID == p.SubjectID {
			return p.Owned
		}
	}

	for _, r := range chain {
		if role, ok := assigned[r.ID]; ok {
			return slices.Contains(p.AssignedRoles, role)
		}
	}

	return false
}
