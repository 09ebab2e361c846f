package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/pkg/cryptox"
	"github.com/aussiebroadwan/trackgate/pkg/idx"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 150
)

// MembershipService mutates the data the resolver reads: subjects,
// resources and role assignments. Every mutation is authorized through the
// Engine first.
type MembershipService struct {
	Store  store.Store
	Engine *Engine
	Tokens *TokenService
	Hasher *cryptox.Hasher

	Now func() time.Time
}

func NewMembershipService(st store.Store, engine *Engine, tokens *TokenService, hasher *cryptox.Hasher) *MembershipService {
	return &MembershipService{
		Store:  st,
		Engine: engine,
		Tokens: tokens,
		Hasher: hasher,
		Now:    time.Now,
	}
}

// NewSubject is the input of CreateSubject.
type NewSubject struct {
	Username string
	Password string
	Staff    bool
}

// CreateSubject registers a subject with a hashed password.
func (s *MembershipService) CreateSubject(ctx context.Context, in NewSubject) (domain.Subject, error) {
	in.Username = strings.TrimSpace(in.Username)
	switch {
	case in.Username == "":
		return domain.Subject{}, invalidInput("username is required")
	case len(in.Username) > maxUsernameLength:
		return domain.Subject{}, invalidInput("username is longer than %d characters", maxUsernameLength)
	case len(in.Password) < minPasswordLength:
		return domain.Subject{}, invalidInput("password must be at least %d characters", minPasswordLength)
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.Now().UTC()
	subject := domain.Subject{
		ID:           idx.NewAt(now).String(),
		Username:     in.Username,
		PasswordHash: hash,
		Staff:        in.Staff,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Subjects().CreateSubject(ctx, subject); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Subject{}, invalidInput("username %q is taken", in.Username)
		}
		return domain.Subject{}, fmt.Errorf("create subject: %w", err)
	}

	slogx.FromContext(ctx).Info("subject created", "subject_id", subject.ID, "staff", subject.Staff)
	return subject, nil
}

// Self returns the caller's own subject.
func (s *MembershipService) Self(ctx context.Context, actor domain.Identity) (domain.Subject, error) {
	if actor.IsZero() {
		return domain.Subject{}, ErrTokenInvalid
	}

	subject, err := s.Store.Subjects().GetSubjectByID(ctx, actor.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Subject{}, ErrNotFound
		}
		return domain.Subject{}, fmt.Errorf("load subject: %w", err)
	}
	return subject, nil
}

// AddContributor grants subjectID the contributor role on a project. Only
// the project's owner or staff may do this.
func (s *MembershipService) AddContributor(ctx context.Context, actor domain.Identity, projectID, subjectID string) error {
	if err := s.authorizeProjectAdmin(ctx, actor, projectID); err != nil {
		return err
	}

	if _, err := s.Store.Subjects().GetSubjectByID(ctx, subjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalidInput("unknown subject %q", subjectID)
		}
		return fmt.Errorf("load subject: %w", err)
	}

	err := s.Store.Assignments().PutAssignment(ctx, domain.RoleAssignment{
		SubjectID:  subjectID,
		ResourceID: projectID,
		Role:       domain.RoleContributor,
		AddedBy:    actor.SubjectID,
		CreatedAt:  s.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("add contributor: %w", err)
	}

	slogx.FromContext(ctx).Info("contributor added", "project_id", projectID, "subject_id", subjectID)
	return nil
}

// RemoveContributor drops subjectID's assignment on a project. The owner
// keeps owner rights through ownership regardless.
func (s *MembershipService) RemoveContributor(ctx context.Context, actor domain.Identity, projectID, subjectID string) error {
	if err := s.authorizeProjectAdmin(ctx, actor, projectID); err != nil {
		return err
	}

	if err := s.Store.Assignments().DeleteAssignment(ctx, subjectID, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("remove contributor: %w", err)
	}

	slogx.FromContext(ctx).Info("contributor removed", "project_id", projectID, "subject_id", subjectID)
	return nil
}

// Contributors lists the assignments on a project the actor can read.
func (s *MembershipService) Contributors(ctx context.Context, actor domain.Identity, projectID string) ([]domain.RoleAssignment, error) {
	d, err := s.Engine.Authorize(ctx, actor, projectID, domain.ActionRead)
	if err != nil {
		return nil, err
	}
	if d.ResourceType != domain.ResourceProject {
		return nil, invalidInput("%q is not a project", projectID)
	}

	list, err := s.Store.Assignments().ListAssignments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	return list, nil
}

// SetStaff toggles the global staff flag. Only staff may do this.
func (s *MembershipService) SetStaff(ctx context.Context, actor domain.Identity, subjectID string, staff bool) error {
	if err := s.requireStaff(ctx, actor); err != nil {
		return err
	}

	if err := s.Store.Subjects().SetStaff(ctx, subjectID, staff); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set staff: %w", err)
	}

	slogx.FromContext(ctx).Info("staff flag changed", "subject_id", subjectID, "staff", staff)
	return nil
}

// DisableSubject blocks a subject from logging in and revokes every
// credential it holds. Staff may disable anyone, subjects may disable
// themselves.
func (s *MembershipService) DisableSubject(ctx context.Context, actor domain.Identity, subjectID string) error {
	if actor.SubjectID != subjectID || actor.IsZero() {
		if err := s.requireStaff(ctx, actor); err != nil {
			return err
		}
	}

	if err := s.Store.Subjects().SetDisabled(ctx, subjectID, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("disable subject: %w", err)
	}

	n, err := s.Tokens.RevokeSubject(ctx, subjectID)
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("subject disabled", "subject_id", subjectID, "revoked", n)
	return nil
}

func (s *MembershipService) authorizeProjectAdmin(ctx context.Context, actor domain.Identity, projectID string) error {
	d, err := s.Engine.Authorize(ctx, actor, projectID, domain.ActionUpdate)
	if err != nil {
		return err
	}
	if d.ResourceType != domain.ResourceProject {
		return invalidInput("%q is not a project", projectID)
	}
	return nil
}

func (s *MembershipService) requireStaff(ctx context.Context, actor domain.Identity) error {
	if actor.IsZero() {
		return ErrTokenInvalid
	}
	staff, err := s.Engine.resolver.IsStaff(ctx, actor.SubjectID)
	if err != nil {
		return err
	}
	if !staff {
		return ErrForbidden
	}
	return nil
}
