package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/internal/access/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func mustSubject(t *testing.T, st store.Store, id string) {
	t.Helper()
	require.NoError(t, st.Subjects().CreateSubject(context.Background(), domain.Subject{
		ID:           id,
		Username:     id,
		PasswordHash: "x",
	}))
}

func mustResource(t *testing.T, st store.Store, id string, typ domain.ResourceType, owner, parent string) {
	t.Helper()
	require.NoError(t, st.Resources().CreateResource(context.Background(), domain.Resource{
		ID:       id,
		Type:     typ,
		OwnerID:  owner,
		ParentID: parent,
	}))
}

func credential(id, subject, session string, expires time.Time) domain.CredentialRecord {
	return domain.CredentialRecord{
		TokenID:   id,
		SubjectID: subject,
		SessionID: session,
		Type:      domain.TokenRefresh,
		Status:    domain.StatusActive,
		IssuedAt:  expires.Add(-time.Hour),
		ExpiresAt: expires,
	}
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.ApplyMigrations())
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC()

	t.Run("put and get", func(t *testing.T) {
		st := newTestStore(t)
		rec := credential("t1", "alice", "s1", expires)
		require.NoError(t, st.Credentials().Put(ctx, rec))

		got, err := st.Credentials().Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, "alice", got.SubjectID)
		require.Equal(t, "s1", got.SessionID)
		require.Equal(t, domain.TokenRefresh, got.Type)
		require.Equal(t, domain.StatusActive, got.Status)
		require.True(t, got.ExpiresAt.Equal(expires))
	})

	t.Run("duplicate token id", func(t *testing.T) {
		st := newTestStore(t)
		rec := credential("t1", "alice", "s1", expires)
		require.NoError(t, st.Credentials().Put(ctx, rec))
		require.ErrorIs(t, st.Credentials().Put(ctx, rec), store.ErrAlreadyExists)
	})

	t.Run("unknown token", func(t *testing.T) {
		st := newTestStore(t)
		_, err := st.Credentials().Get(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, st.Credentials().Transition(ctx, "nope", domain.StatusActive, domain.StatusRevoked), store.ErrNotFound)
	})

	t.Run("transition is compare and set", func(t *testing.T) {
		st := newTestStore(t)
		require.NoError(t, st.Credentials().Put(ctx, credential("t1", "alice", "s1", expires)))

		require.NoError(t, st.Credentials().Transition(ctx, "t1", domain.StatusActive, domain.StatusRotated))
		err := st.Credentials().Transition(ctx, "t1", domain.StatusActive, domain.StatusRevoked)
		require.ErrorIs(t, err, store.ErrStatusConflict)

		got, err := st.Credentials().Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, domain.StatusRotated, got.Status)
	})

	t.Run("revoke session and subject", func(t *testing.T) {
		st := newTestStore(t)
		c := st.Credentials()
		require.NoError(t, c.Put(ctx, credential("a1", "alice", "s1", expires)))
		require.NoError(t, c.Put(ctx, credential("a2", "alice", "s1", expires)))
		require.NoError(t, c.Put(ctx, credential("a3", "alice", "s2", expires)))
		require.NoError(t, c.Put(ctx, credential("b1", "bob", "s3", expires)))
		require.NoError(t, c.Transition(ctx, "a2", domain.StatusActive, domain.StatusRotated))

		n, err := c.RevokeSession(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = c.RevokeSubject(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := c.Get(ctx, "a2")
		require.NoError(t, err)
		require.Equal(t, domain.StatusRotated, got.Status)

		got, err = c.Get(ctx, "b1")
		require.NoError(t, err)
		require.Equal(t, domain.StatusActive, got.Status)
	})

	t.Run("delete expired", func(t *testing.T) {
		st := newTestStore(t)
		now := time.Now()
		require.NoError(t, st.Credentials().Put(ctx, credential("old", "alice", "s1", now.Add(-time.Minute))))
		require.NoError(t, st.Credentials().Put(ctx, credential("new", "alice", "s1", now.Add(time.Minute))))

		n, err := st.Credentials().DeleteExpired(ctx, now)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = st.Credentials().Get(ctx, "old")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.Credentials().Get(ctx, "new")
		require.NoError(t, err)
	})
}

func TestTransitionConcurrent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Credentials().Put(ctx, credential("t1", "alice", "s1", time.Now().Add(time.Hour))))

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.Credentials().Transition(ctx, "t1", domain.StatusActive, domain.StatusRotated)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrStatusConflict):
				conflict++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, conflict)
}

func TestSubjects(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.Subjects().CreateSubject(ctx, domain.Subject{ID: "u1", Username: "alice", PasswordHash: "h"}))
	err := st.Subjects().CreateSubject(ctx, domain.Subject{ID: "u2", Username: "alice", PasswordHash: "h"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	require.NoError(t, st.Subjects().SetStaff(ctx, "u1", true))
	require.NoError(t, st.Subjects().SetDisabled(ctx, "u1", true))

	s, err := st.Subjects().GetSubjectByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "u1", s.ID)
	require.True(t, s.Staff)
	require.True(t, s.Disabled)

	require.ErrorIs(t, st.Subjects().SetStaff(ctx, "ghost", true), store.ErrNotFound)
	_, err = st.Subjects().GetSubjectByID(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mustSubject(t, st, "olga")
	mustSubject(t, st, "carl")
	mustResource(t, st, "p1", domain.ResourceProject, "olga", "")

	a := st.Assignments()
	require.NoError(t, a.PutAssignment(ctx, domain.RoleAssignment{
		SubjectID: "carl", ResourceID: "p1", Role: domain.RoleNone, AddedBy: "olga",
	}))
	require.NoError(t, a.PutAssignment(ctx, domain.RoleAssignment{
		SubjectID: "carl", ResourceID: "p1", Role: domain.RoleContributor, AddedBy: "olga",
	}))

	got, err := a.GetAssignment(ctx, "carl", "p1")
	require.NoError(t, err)
	require.Equal(t, domain.RoleContributor, got.Role)

	list, err := a.ListAssignments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, a.DeleteAssignment(ctx, "carl", "p1"))
	require.ErrorIs(t, a.DeleteAssignment(ctx, "carl", "p1"), store.ErrNotFound)
	_, err = a.GetAssignment(ctx, "carl", "p1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteResourceCascades(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mustSubject(t, st, "olga")
	mustResource(t, st, "p1", domain.ResourceProject, "olga", "")
	mustResource(t, st, "i1", domain.ResourceIssue, "olga", "p1")
	mustResource(t, st, "c1", domain.ResourceComment, "olga", "i1")
	require.NoError(t, st.Assignments().PutAssignment(ctx, domain.RoleAssignment{
		SubjectID: "olga", ResourceID: "p1", Role: domain.RoleContributor,
	}))

	require.NoError(t, st.Resources().DeleteResource(ctx, "p1"))

	for _, id := range []string{"p1", "i1", "c1"} {
		_, err := st.Resources().GetResource(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound, id)
	}
	_, err := st.Assignments().GetAssignment(ctx, "olga", "p1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// TestDeleteResourceCascadesOnEveryConnection pins one pooled connection in
// an open transaction so the delete runs on another one, which must enforce
// foreign keys as well.
func TestDeleteResourceCascadesOnEveryConnection(t *testing.T) {
	dsns := map[string]func(path string) string{
		"file dsn":  sqlite.FileDSN,
		"bare path": func(path string) string { return path },
	}

	for name, dsn := range dsns {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := sqlite.NewStore(dsn(filepath.Join(t.TempDir(), "trackgate.db")))
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			require.NoError(t, st.ApplyMigrations())

			mustSubject(t, st, "olga")
			mustResource(t, st, "p1", domain.ResourceProject, "olga", "")
			mustResource(t, st, "i1", domain.ResourceIssue, "olga", "p1")
			mustResource(t, st, "c1", domain.ResourceComment, "olga", "i1")
			require.NoError(t, st.Assignments().PutAssignment(ctx, domain.RoleAssignment{
				SubjectID: "olga", ResourceID: "p1", Role: domain.RoleContributor,
			}))

			tx, err := st.Tx(ctx)
			require.NoError(t, err)
			require.NoError(t, st.Resources().DeleteResource(ctx, "p1"))
			require.NoError(t, tx.Rollback())

			for _, id := range []string{"p1", "i1", "c1"} {
				_, err := st.Resources().GetResource(ctx, id)
				require.ErrorIs(t, err, store.ErrNotFound, id)
			}
			_, err = st.Assignments().GetAssignment(ctx, "olga", "p1")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestWithTxRollback(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Subjects().CreateSubject(ctx, domain.Subject{ID: "u1", Username: "alice", PasswordHash: "h"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.Subjects().GetSubjectByID(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreFailurePropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := sqlite.NewStoreWithDB(db)
	diskErr := errors.New("disk I/O error")

	mock.ExpectQuery("SELECT token_id").WillReturnError(diskErr)
	_, err = st.Credentials().Get(context.Background(), "t1")
	require.ErrorIs(t, err, diskErr)
	require.NotErrorIs(t, err, store.ErrNotFound)

	mock.ExpectExec("UPDATE credentials").WillReturnError(diskErr)
	err = st.Credentials().Transition(context.Background(), "t1", domain.StatusActive, domain.StatusRevoked)
	require.ErrorIs(t, err, diskErr)

	require.NoError(t, mock.ExpectationsWereMet())
}
