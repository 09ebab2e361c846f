package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/stretchr/testify/require"
)

func TestContributorLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	alice := f.subject(t, "alice", false)
	bob := f.subject(t, "bob", false)

	proj, err := f.members.RegisterResource(ctx, alice, domain.ResourceProject, "")
	require.NoError(t, err)
	require.Equal(t, "alice", proj.OwnerID)

	// Hidden until bob is added.
	_, err = f.engine.Authorize(ctx, bob, proj.ID, domain.ActionRead)
	require.ErrorIs(t, err, service.ErrNotFound)
	require.ErrorIs(t, f.members.AddContributor(ctx, bob, proj.ID, "bob"), service.ErrNotFound)

	require.NoError(t, f.members.AddContributor(ctx, alice, proj.ID, "bob"))

	_, err = f.engine.Authorize(ctx, bob, proj.ID, domain.ActionRead)
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, bob, proj.ID, domain.ActionUpdate)
	require.ErrorIs(t, err, service.ErrForbidden)
	require.ErrorIs(t, f.members.AddContributor(ctx, bob, proj.ID, "alice"), service.ErrForbidden)

	issue, err := f.members.RegisterResource(ctx, bob, domain.ResourceIssue, proj.ID)
	require.NoError(t, err)

	// The project owner controls everything below it.
	_, err = f.engine.Authorize(ctx, alice, issue.ID, domain.ActionDelete)
	require.NoError(t, err)

	list, err := f.members.Contributors(ctx, alice, proj.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, f.members.RemoveContributor(ctx, alice, proj.ID, "bob"))
	require.ErrorIs(t, f.members.RemoveContributor(ctx, alice, proj.ID, "bob"), service.ErrNotFound)

	_, err = f.engine.Authorize(ctx, bob, proj.ID, domain.ActionRead)
	require.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.members.Contributors(ctx, bob, proj.ID)
	require.ErrorIs(t, err, service.ErrNotFound)

	// bob still authored the issue.
	_, err = f.engine.Authorize(ctx, bob, issue.ID, domain.ActionUpdate)
	require.NoError(t, err)

	projects, err := f.members.ListVisible(ctx, bob, domain.ResourceProject, "")
	require.NoError(t, err)
	require.Empty(t, projects)
}

func TestAddContributorRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	require.ErrorIs(t, f.members.AddContributor(ctx, ident("olga"), "p1", "ghost"), service.ErrInvalidInput)
	require.ErrorIs(t, f.members.AddContributor(ctx, ident("olga"), "i2", "bob"), service.ErrInvalidInput)
	require.ErrorIs(t, f.members.AddContributor(ctx, ident("olga"), "nope", "bob"), service.ErrNotFound)

	// Staff administer any project.
	require.NoError(t, f.members.AddContributor(ctx, ident("sam"), "p2", "alice"))
}

func TestRegisterResource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)
	alice := ident("alice")

	c, err := f.members.RegisterResource(ctx, alice, domain.ResourceComment, "i2")
	require.NoError(t, err)
	require.Equal(t, "i2", c.ParentID)
	require.Equal(t, domain.ResourceComment, c.Type)

	tests := []struct {
		name    string
		typ     domain.ResourceType
		parent  string
		wantErr error
	}{
		{"unknown type", domain.ResourceType("wiki"), "", service.ErrInvalidInput},
		{"issue without project", domain.ResourceIssue, "", service.ErrInvalidInput},
		{"project with parent", domain.ResourceProject, "p1", service.ErrInvalidInput},
		{"issue under issue", domain.ResourceIssue, "i1", service.ErrInvalidInput},
		{"comment under comment", domain.ResourceComment, "c1", service.ErrForbidden},
		{"issue in hidden project", domain.ResourceIssue, "p2", service.ErrNotFound},
		{"comment under missing issue", domain.ResourceComment, "nope", service.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.members.RegisterResource(ctx, alice, tt.typ, tt.parent)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDeleteResource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	require.ErrorIs(t, f.members.DeleteResource(ctx, ident("alice"), "p1"), service.ErrForbidden)
	require.ErrorIs(t, f.members.DeleteResource(ctx, ident("bob"), "p1"), service.ErrNotFound)

	require.NoError(t, f.members.DeleteResource(ctx, ident("olga"), "p1"))

	for _, id := range []string{"p1", "i1", "c1", "i2"} {
		_, err := f.engine.Authorize(ctx, ident("olga"), id, domain.ActionRead)
		require.ErrorIs(t, err, service.ErrNotFound, id)
	}
	issues, err := f.members.ListVisible(ctx, ident("sam"), domain.ResourceIssue, "")
	require.NoError(t, err)
	require.Equal(t, []string{"i3"}, resourceIDs(issues))
}

func TestCreateSubject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})

	s, err := f.members.CreateSubject(ctx, service.NewSubject{Username: "  olga ", Password: "hunter2hunter2"})
	require.NoError(t, err)
	require.Equal(t, "olga", s.Username)
	require.NotEmpty(t, s.ID)
	require.NotEqual(t, "hunter2hunter2", s.PasswordHash)

	tests := []struct {
		name string
		in   service.NewSubject
	}{
		{"empty username", service.NewSubject{Username: " ", Password: "longenough"}},
		{"long username", service.NewSubject{Username: strings.Repeat("x", 151), Password: "longenough"}},
		{"short password", service.NewSubject{Username: "ivan", Password: "short"}},
		{"duplicate", service.NewSubject{Username: "olga", Password: "longenough"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.members.CreateSubject(ctx, tt.in)
			require.ErrorIs(t, err, service.ErrInvalidInput)
		})
	}
}

func TestSelf(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})

	created, err := f.members.CreateSubject(ctx, service.NewSubject{Username: "olga", Password: "hunter2hunter2"})
	require.NoError(t, err)

	s, err := f.members.Self(ctx, ident(created.ID))
	require.NoError(t, err)
	require.Equal(t, "olga", s.Username)
	require.False(t, s.Staff)

	_, err = f.members.Self(ctx, domain.Identity{})
	require.ErrorIs(t, err, service.ErrTokenInvalid)
	_, err = f.members.Self(ctx, ident("ghost"))
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestSetStaff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	require.ErrorIs(t, f.members.SetStaff(ctx, ident("alice"), "alice", true), service.ErrForbidden)
	require.ErrorIs(t, f.members.SetStaff(ctx, domain.Identity{}, "alice", true), service.ErrTokenInvalid)
	require.ErrorIs(t, f.members.SetStaff(ctx, ident("sam"), "ghost", true), service.ErrNotFound)

	require.NoError(t, f.members.SetStaff(ctx, ident("sam"), "alice", true))
	d, err := f.engine.Authorize(ctx, ident("alice"), "i3", domain.ActionUpdate)
	require.NoError(t, err)
	require.Equal(t, domain.RoleStaff, d.Role)
}

func TestDisableSubject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, service.TokenConfig{})
	f.tracker(t)

	pair, err := f.tokens.Issue(ctx, "alice")
	require.NoError(t, err)

	require.ErrorIs(t, f.members.DisableSubject(ctx, ident("bob"), "alice"), service.ErrForbidden)
	require.ErrorIs(t, f.members.DisableSubject(ctx, ident("sam"), "ghost"), service.ErrNotFound)

	require.NoError(t, f.members.DisableSubject(ctx, ident("alice"), "alice"))

	_, err = f.tokens.Validate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrTokenRevoked)
	_, err = f.tokens.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrTokenRevoked)
	_, err = f.tokens.Issue(ctx, "alice")
	require.ErrorIs(t, err, service.ErrIdentity)

	// Staff can disable others.
	bobs, err := f.tokens.Issue(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, f.members.DisableSubject(ctx, ident("sam"), "bob"))
	_, err = f.tokens.Validate(ctx, bobs.RefreshToken)
	require.ErrorIs(t, err, service.ErrTokenRevoked)
}
