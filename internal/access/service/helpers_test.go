package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/internal/access/store/drivers/sqlite"
	"github.com/aussiebroadwan/trackgate/pkg/cryptox"
	"github.com/aussiebroadwan/trackgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testIssuer = "trackgate-test"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureRecorder struct {
	mu        sync.Mutex
	decisions []domain.Decision
}

func (r *captureRecorder) Record(_ context.Context, d domain.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func (r *captureRecorder) last() domain.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[len(r.decisions)-1]
}

type fixture struct {
	store    *sqlite.Store
	keys     *jwtx.KeyManager
	clock    *fakeClock
	tokens   *service.TokenService
	resolver *service.RoleResolver
	engine   *service.Engine
	members  *service.MembershipService
	recorder *captureRecorder
}

func newFixture(t *testing.T, cfg service.TokenConfig) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	keys, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: testIssuer, NumKeys: 2})
	require.NoError(t, err)

	hasher := cryptox.NewHasher("test-pepper")
	clock := newClock()

	tokens, err := service.NewTokenService(keys, st.Subjects(), st.Credentials(), hasher, cfg)
	require.NoError(t, err)
	tokens.Now = clock.Now

	rec := &captureRecorder{}
	resolver := service.NewRoleResolver(st)
	engine := service.NewEngine(resolver, service.DefaultPolicy(), rec, nil)
	engine.Now = clock.Now

	members := service.NewMembershipService(st, engine, tokens, hasher)
	members.Now = clock.Now

	return &fixture{
		store:    st,
		keys:     keys,
		clock:    clock,
		tokens:   tokens,
		resolver: resolver,
		engine:   engine,
		members:  members,
		recorder: rec,
	}
}

func (f *fixture) subject(t *testing.T, id string, staff bool) domain.Identity {
	t.Helper()
	require.NoError(t, f.store.Subjects().CreateSubject(context.Background(), domain.Subject{
		ID:           id,
		Username:     id,
		PasswordHash: "unused",
		Staff:        staff,
	}))
	return domain.Identity{SubjectID: id}
}

func (f *fixture) resource(t *testing.T, id string, typ domain.ResourceType, owner, parent string) {
	t.Helper()
	require.NoError(t, f.store.Resources().CreateResource(context.Background(), domain.Resource{
		ID:        id,
		Type:      typ,
		OwnerID:   owner,
		ParentID:  parent,
		CreatedAt: f.clock.Now(),
	}))
}

func (f *fixture) assign(t *testing.T, subject, resource string, role domain.Role) {
	t.Helper()
	require.NoError(t, f.store.Assignments().PutAssignment(context.Background(), domain.RoleAssignment{
		SubjectID:  subject,
		ResourceID: resource,
		Role:       role,
	}))
}

// tracker seeds:
//
//	p1 (olga)  <- i1 (alice) <- c1 (alice)
//	           <- i2 (olga)
//	p2 (bob)   <- i3 (bob)
//
// alice contributes to p1 and sam is staff.
func (f *fixture) tracker(t *testing.T) {
	t.Helper()
	for _, id := range []string{"olga", "alice", "bob"} {
		f.subject(t, id, false)
	}
	f.subject(t, "sam", true)

	f.resource(t, "p1", domain.ResourceProject, "olga", "")
	f.resource(t, "i1", domain.ResourceIssue, "alice", "p1")
	f.resource(t, "c1", domain.ResourceComment, "alice", "i1")
	f.resource(t, "i2", domain.ResourceIssue, "olga", "p1")
	f.resource(t, "p2", domain.ResourceProject, "bob", "")
	f.resource(t, "i3", domain.ResourceIssue, "bob", "p2")

	f.assign(t, "olga", "p1", domain.RoleContributor)
	f.assign(t, "alice", "p1", domain.RoleContributor)
	f.assign(t, "bob", "p2", domain.RoleContributor)
}

func ident(subject string) domain.Identity { return domain.Identity{SubjectID: subject} }

func slogDiscard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
