package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/obs"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
	"github.com/google/uuid"
)

// DecisionRecorder receives every decision the Engine makes. Implementations
// must not block.
type DecisionRecorder interface {
	Record(ctx context.Context, d domain.Decision)
}

// Engine answers "may this identity perform this action on this resource"
// and builds list predicates under the same policy.
type Engine struct {
	resolver *RoleResolver
	policy   Policy
	recorder DecisionRecorder
	metrics  *obs.Metrics

	// Now stamps decisions.
	Now func() time.Time
}

// NewEngine builds an Engine. recorder and metrics may be nil.
func NewEngine(resolver *RoleResolver, policy Policy, recorder DecisionRecorder, metrics *obs.Metrics) *Engine {
	return &Engine{
		resolver: resolver,
		policy:   policy,
		recorder: recorder,
		metrics:  metrics,
		Now:      time.Now,
	}
}

func (e *Engine) Policy() Policy { return e.policy }

// Authorize decides whether id may perform action on resourceID. For
// ActionCreate, resourceID names the parent the new resource goes under,
// and an empty resourceID means creating a project.
//
// A denial is reported as ErrNotFound when the caller cannot read the
// target, so the existence of hidden resources never leaks, and as
// ErrForbidden otherwise. The returned Decision is always populated and
// always recorded, including for hard failures.
func (e *Engine) Authorize(
	ctx context.Context,
	id domain.Identity,
	resourceID string,
	action domain.Action,
) (domain.Decision, error) {
	d := domain.Decision{
		ID:         uuid.NewString(),
		SubjectID:  id.SubjectID,
		ResourceID: resourceID,
		Action:     action,
		Role:       domain.RoleNone,
		Outcome:    domain.OutcomeDeny,
		Timestamp:  e.Now().UTC(),
	}

	err := e.decide(ctx, id, &d)
	if err == nil {
		d.Outcome = domain.OutcomeAllow
		d.Reason = domain.ReasonGranted
	}

	e.emit(ctx, d, err)
	return d, err
}

func (e *Engine) decide(ctx context.Context, id domain.Identity, d *domain.Decision) error {
	if !d.Action.Valid() {
		d.Reason = domain.ReasonInvalidRequest
		return invalidInput("unknown action %q", d.Action)
	}
	if id.IsZero() && e.policy.RequireAuthenticated {
		d.Reason = domain.ReasonUnauthenticated
		return ErrTokenInvalid
	}

	if d.ResourceID == "" {
		if d.Action != domain.ActionCreate {
			d.Reason = domain.ReasonInvalidRequest
			return invalidInput("resource id is required for %s", d.Action)
		}
		return e.decideNewProject(ctx, id, d)
	}

	role, res, err := e.resolver.Resolve(ctx, id.SubjectID, d.ResourceID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			d.Reason = domain.ReasonMissing
			return ErrNotFound
		case errors.Is(err, ErrIntegrity):
			d.Reason = domain.ReasonIntegrity
		default:
			d.Reason = domain.ReasonStoreFailure
		}
		return fmt.Errorf("authorize %s on %q: %w", d.Action, d.ResourceID, err)
	}
	d.ResourceType = res.Type
	d.Role = role

	ruleType := res.Type
	if d.Action == domain.ActionCreate {
		child, ok := res.Type.ChildType()
		if !ok {
			return e.deny(d, domain.ReasonNoRule)
		}
		ruleType = child
	}

	roles, ok := e.policy.Roles(ruleType, d.Action)
	if !ok {
		return e.deny(d, domain.ReasonNoRule)
	}
	if !slices.Contains(roles, role) {
		return e.deny(d, domain.ReasonInsufficient)
	}
	return nil
}

// deny classifies a denial on an existing resource by read visibility.
func (e *Engine) deny(d *domain.Decision, reason domain.Reason) error {
	if d.Action != domain.ActionRead && e.policy.Allows(d.ResourceType, domain.ActionRead, d.Role) {
		d.Reason = reason
		return ErrForbidden
	}
	d.Reason = domain.ReasonNotVisible
	return ErrNotFound
}

func (e *Engine) decideNewProject(ctx context.Context, id domain.Identity, d *domain.Decision) error {
	d.ResourceType = domain.ResourceProject

	staff, err := e.resolver.IsStaff(ctx, id.SubjectID)
	if err != nil {
		d.Reason = domain.ReasonStoreFailure
		return fmt.Errorf("authorize project creation: %w", err)
	}
	if staff {
		d.Role = domain.RoleStaff
	}

	roles, ok := e.policy.Roles(domain.ResourceProject, domain.ActionCreate)
	switch {
	case !ok:
		d.Reason = domain.ReasonNoRule
		return ErrForbidden
	case !slices.Contains(roles, d.Role):
		d.Reason = domain.ReasonInsufficient
		return ErrForbidden
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, d domain.Decision, err error) {
	e.metrics.Decision(d)
	if e.recorder != nil {
		e.recorder.Record(ctx, d)
	}

	if err == nil {
		return
	}
	attrs := []any{
		"decision_id", d.ID,
		"subject_id", d.SubjectID,
		"resource_id", d.ResourceID,
		"action", d.Action,
		"error", err,
	}
	switch d.Reason {
	case domain.ReasonStoreFailure:
		slogx.FromContext(ctx).Error("authorization failed", attrs...)
	case domain.ReasonIntegrity:
		slogx.FromContext(ctx).Warn("resource hierarchy is broken", attrs...)
	}
}

// ScopeQuery returns the predicate selecting the rows of resource type t
// that id may read. For policies that let owners read whatever anyone may
// read, it selects exactly the rows Authorize allows for ActionRead.
func (e *Engine) ScopeQuery(ctx context.Context, id domain.Identity, t domain.ResourceType) (domain.Predicate, error) {
	if !t.Valid() {
		return domain.Predicate{}, invalidInput("unknown resource type %q", t)
	}
	if id.IsZero() && e.policy.RequireAuthenticated {
		return domain.Predicate{}, ErrTokenInvalid
	}

	p := domain.Predicate{ResourceType: t, SubjectID: id.SubjectID}
	roles, ok := e.policy.Roles(t, domain.ActionRead)
	if !ok {
		return p, nil
	}

	staff, err := e.resolver.IsStaff(ctx, id.SubjectID)
	if err != nil {
		return domain.Predicate{}, fmt.Errorf("scope %s: %w", t, err)
	}

	p.Owned = slices.Contains(roles, domain.RoleOwner)
	if staff {
		// Staff resolve to staff everywhere they do not own, so their
		// assignments never matter.
		p.Unrestricted = slices.Contains(roles, domain.RoleStaff)
		return p, nil
	}

	// Subjects without any assignment resolve to none.
	if slices.Contains(roles, domain.RoleNone) {
		p.Unrestricted = true
		return p, nil
	}

	for _, r := range roles {
		if r != domain.RoleOwner && r != domain.RoleStaff {
			p.AssignedRoles = append(p.AssignedRoles, r)
		}
	}
	return p, nil
}
