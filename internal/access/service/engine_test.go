package service_test

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	tests := []struct {
		name     string
		subject  string
		resource string
		action   domain.Action
		wantErr  error
		wantRole domain.Role
		reason   domain.Reason
	}{
		{"contributor reads sibling issue", "alice", "i2", domain.ActionRead, nil, domain.RoleContributor, domain.ReasonGranted},
		{"contributor cannot edit sibling issue", "alice", "i2", domain.ActionUpdate, service.ErrForbidden, domain.RoleContributor, domain.ReasonInsufficient},
		{"author edits own issue", "alice", "i1", domain.ActionUpdate, nil, domain.RoleOwner, domain.ReasonGranted},
		{"project owner deletes nested comment", "olga", "c1", domain.ActionDelete, nil, domain.RoleOwner, domain.ReasonGranted},
		{"stranger cannot see issue", "bob", "i1", domain.ActionRead, service.ErrNotFound, domain.RoleNone, domain.ReasonNotVisible},
		{"stranger update looks like missing", "bob", "i1", domain.ActionUpdate, service.ErrNotFound, domain.RoleNone, domain.ReasonNotVisible},
		{"staff edits anything", "sam", "i3", domain.ActionUpdate, nil, domain.RoleStaff, domain.ReasonGranted},
		{"unknown resource", "alice", "nope", domain.ActionRead, service.ErrNotFound, domain.RoleNone, domain.ReasonMissing},
		{"contributor creates issue", "alice", "p1", domain.ActionCreate, nil, domain.RoleContributor, domain.ReasonGranted},
		{"stranger cannot create under hidden project", "bob", "p1", domain.ActionCreate, service.ErrNotFound, domain.RoleNone, domain.ReasonNotVisible},
		{"nothing goes under a comment", "alice", "c1", domain.ActionCreate, service.ErrForbidden, domain.RoleOwner, domain.ReasonNoRule},
		{"anyone starts a project", "bob", "", domain.ActionCreate, nil, domain.RoleNone, domain.ReasonGranted},
		{"staff starts a project as staff", "sam", "", domain.ActionCreate, nil, domain.RoleStaff, domain.ReasonGranted},
		{"read needs a resource", "alice", "", domain.ActionRead, service.ErrInvalidInput, domain.RoleNone, domain.ReasonInvalidRequest},
		{"unknown action", "alice", "i1", domain.Action("approve"), service.ErrInvalidInput, domain.RoleNone, domain.ReasonInvalidRequest},
		{"anonymous", "", "i1", domain.ActionRead, service.ErrTokenInvalid, domain.RoleNone, domain.ReasonUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.engine.Authorize(ctx, ident(tt.subject), tt.resource, tt.action)
			if tt.wantErr == nil {
				require.NoError(t, err)
				require.True(t, d.Allowed())
			} else {
				require.ErrorIs(t, err, tt.wantErr)
				require.False(t, d.Allowed())
			}
			require.Equal(t, tt.wantRole, d.Role)
			require.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestAuthorizeRecordsEveryDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	d, err := f.engine.Authorize(ctx, ident("alice"), "i1", domain.ActionRead)
	require.NoError(t, err)
	got := f.recorder.last()
	require.Equal(t, d, got)
	require.NotEmpty(t, got.ID)
	require.Equal(t, domain.ResourceIssue, got.ResourceType)
	require.True(t, got.Timestamp.Equal(f.clock.Now()))

	d, err = f.engine.Authorize(ctx, ident("bob"), "i1", domain.ActionDelete)
	require.ErrorIs(t, err, service.ErrNotFound)
	require.Equal(t, d, f.recorder.last())
	require.Equal(t, domain.OutcomeDeny, f.recorder.last().Outcome)
	require.Len(t, f.recorder.decisions, 2)
}

func TestOwnerKeepsRightsWithoutAssignment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	require.NoError(t, f.store.Assignments().DeleteAssignment(ctx, "olga", "p1"))

	for _, action := range []domain.Action{domain.ActionRead, domain.ActionUpdate, domain.ActionDelete} {
		d, err := f.engine.Authorize(ctx, ident("olga"), "p1", action)
		require.NoError(t, err, action)
		require.Equal(t, domain.RoleOwner, d.Role)
	}
}

func TestMostSpecificAssignmentWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	// alice contributes to p1 but is shut out of i2 explicitly.
	f.assign(t, "alice", "i2", domain.RoleNone)

	_, err := f.engine.Authorize(ctx, ident("alice"), "i2", domain.ActionRead)
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.engine.Authorize(ctx, ident("alice"), "i1", domain.ActionRead)
	require.NoError(t, err)

	list, err := f.members.ListVisible(ctx, ident("alice"), domain.ResourceIssue, "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"i1"}, resourceIDs(list))
}

func TestDisabledStaffLosesOverride(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	require.NoError(t, f.store.Subjects().SetDisabled(ctx, "sam", true))

	_, err := f.engine.Authorize(ctx, ident("sam"), "i3", domain.ActionRead)
	require.ErrorIs(t, err, service.ErrNotFound)

	staff, err := f.resolver.IsStaff(ctx, "sam")
	require.NoError(t, err)
	require.False(t, staff)
}

func TestResolverIntegrity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	f.resource(t, "orphan", domain.ResourceIssue, "alice", "")
	f.resource(t, "stray", domain.ResourceComment, "alice", "p1")
	f.resource(t, "nested", domain.ResourceProject, "olga", "p2")

	for _, id := range []string{"orphan", "stray", "nested"} {
		t.Run(id, func(t *testing.T) {
			_, _, err := f.resolver.Resolve(ctx, "bob", id)
			require.ErrorIs(t, err, service.ErrIntegrity)

			d, err := f.engine.Authorize(ctx, ident("bob"), id, domain.ActionRead)
			require.ErrorIs(t, err, service.ErrIntegrity)
			require.NotErrorIs(t, err, service.ErrNotFound)
			require.NotErrorIs(t, err, service.ErrForbidden)
			require.Equal(t, domain.ReasonIntegrity, d.Reason)
			require.Equal(t, domain.OutcomeDeny, d.Outcome)
		})
	}
}

func TestScopeQueryAgreesWithAuthorize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)
	f.assign(t, "alice", "i2", domain.RoleNone)

	all := map[domain.ResourceType][]string{
		domain.ResourceProject: {"p1", "p2"},
		domain.ResourceIssue:   {"i1", "i2", "i3"},
		domain.ResourceComment: {"c1"},
	}

	for _, subject := range []string{"olga", "alice", "bob", "sam", "nobody"} {
		for typ, rows := range all {
			listed, err := f.members.ListVisible(ctx, ident(subject), typ, "")
			require.NoError(t, err)

			var want []string
			for _, id := range rows {
				if _, err := f.engine.Authorize(ctx, ident(subject), id, domain.ActionRead); err == nil {
					want = append(want, id)
				}
			}
			require.ElementsMatch(t, want, resourceIDs(listed), "subject=%s type=%s", subject, typ)
		}
	}
}

func TestScopeQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	p, err := f.engine.ScopeQuery(ctx, ident("sam"), domain.ResourceIssue)
	require.NoError(t, err)
	require.True(t, p.Unrestricted)

	p, err = f.engine.ScopeQuery(ctx, ident("alice"), domain.ResourceIssue)
	require.NoError(t, err)
	require.False(t, p.Unrestricted)
	require.True(t, p.Owned)
	require.Equal(t, []domain.Role{domain.RoleContributor}, p.AssignedRoles)

	_, err = f.engine.ScopeQuery(ctx, domain.Identity{}, domain.ResourceIssue)
	require.ErrorIs(t, err, service.ErrTokenInvalid)

	_, err = f.engine.ScopeQuery(ctx, ident("alice"), domain.ResourceType("wiki"))
	require.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestPolicyAllows(t *testing.T) {
	t.Parallel()
	p := service.DefaultPolicy()

	require.True(t, p.Allows(domain.ResourceIssue, domain.ActionRead, domain.RoleContributor))
	require.False(t, p.Allows(domain.ResourceIssue, domain.ActionUpdate, domain.RoleContributor))
	require.False(t, p.Allows(domain.ResourceIssue, domain.ActionRead, domain.RoleNone))
	require.True(t, p.Allows(domain.ResourceProject, domain.ActionCreate, domain.RoleNone))
	require.False(t, p.Allows(domain.ResourceComment, domain.ActionCreate, domain.RoleNone))

	_, ok := p.Roles(domain.ResourceType("wiki"), domain.ActionRead)
	require.False(t, ok)
}

func resourceIDs(rs []domain.Resource) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
