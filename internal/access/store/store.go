package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrStatusConflict is returned by Credentials.Transition when the record
	// is no longer in the expected state. Exactly one concurrent caller wins.
	ErrStatusConflict = errors.New("store: status conflict")
)

// Store is the root data access interface. The sqlite driver implements all
// of it; credentials can additionally be served by the memory or redis
// drivers, which only implement Credentials.
type Store interface {
	Subjects() Subjects
	Resources() Resources
	Assignments() Assignments
	Credentials() Credentials

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Subjects interface {
	GetSubjectByID(ctx context.Context, id string) (domain.Subject, error)

	// GetSubjectByUsername is used during password login.
	GetSubjectByUsername(ctx context.Context, username string) (domain.Subject, error)

	// CreateSubject fails with ErrAlreadyExists on a duplicate username.
	CreateSubject(ctx context.Context, s domain.Subject) error

	SetStaff(ctx context.Context, id string, staff bool) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
}

type Resources interface {
	GetResource(ctx context.Context, id string) (domain.Resource, error)
	CreateResource(ctx context.Context, r domain.Resource) error

	// DeleteResource removes the resource, its descendants and every
	// assignment on them.
	DeleteResource(ctx context.Context, id string) error

	// ListVisible returns the rows of p.ResourceType matching p, optionally
	// narrowed to the children of parentID. The predicate is applied by the
	// query itself.
	ListVisible(ctx context.Context, p domain.Predicate, parentID string) ([]domain.Resource, error)
}

type Assignments interface {
	// GetAssignment is a keyed lookup on (subject, resource).
	GetAssignment(ctx context.Context, subjectID, resourceID string) (domain.RoleAssignment, error)

	// PutAssignment inserts or replaces the subject's role on the resource.
	PutAssignment(ctx context.Context, a domain.RoleAssignment) error

	DeleteAssignment(ctx context.Context, subjectID, resourceID string) error

	ListAssignments(ctx context.Context, resourceID string) ([]domain.RoleAssignment, error)
}

// Credentials persists token state keyed by token id. Implementations must
// make Transition atomic per record.
type Credentials interface {
	// Get returns ErrNotFound for unknown or evicted records.
	Get(ctx context.Context, tokenID string) (domain.CredentialRecord, error)

	Put(ctx context.Context, rec domain.CredentialRecord) error

	// Transition moves a record from one status to another, failing with
	// ErrStatusConflict when the current status is not from.
	Transition(ctx context.Context, tokenID string, from, to domain.CredentialStatus) error

	// RevokeSession revokes every active record of a session and reports how
	// many changed.
	RevokeSession(ctx context.Context, sessionID string) (int, error)

	// RevokeSubject revokes every active record of a subject.
	RevokeSubject(ctx context.Context, subjectID string) (int, error)

	// DeleteExpired purges records that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
