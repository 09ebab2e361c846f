package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/pkg/idx"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

// RegisterResource records a new resource owned by the actor. Projects are
// created at the top level and make their owner a contributor; issues go
// under projects and comments under issues, where the actor must be allowed
// to create.
func (s *MembershipService) RegisterResource(
	ctx context.Context,
	actor domain.Identity,
	typ domain.ResourceType,
	parentID string,
) (domain.Resource, error) {
	if !typ.Valid() {
		return domain.Resource{}, invalidInput("unknown resource type %q", typ)
	}
	wantParent, needsParent := typ.ParentType()
	switch {
	case needsParent && parentID == "":
		return domain.Resource{}, invalidInput("%s requires a parent %s", typ, wantParent)
	case !needsParent && parentID != "":
		return domain.Resource{}, invalidInput("%s cannot have a parent", typ)
	}

	d, err := s.Engine.Authorize(ctx, actor, parentID, domain.ActionCreate)
	if err != nil {
		return domain.Resource{}, err
	}
	if needsParent && d.ResourceType != wantParent {
		return domain.Resource{}, invalidInput("%s must be created under a %s, not a %s", typ, wantParent, d.ResourceType)
	}

	now := s.Now().UTC()
	res := domain.Resource{
		ID:        idx.NewAt(now).String(),
		Type:      typ,
		OwnerID:   actor.SubjectID,
		ParentID:  parentID,
		CreatedAt: now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Resources().CreateResource(ctx, res); err != nil {
			return err
		}
		if typ != domain.ResourceProject {
			return nil
		}
		return tx.Assignments().PutAssignment(ctx, domain.RoleAssignment{
			SubjectID:  actor.SubjectID,
			ResourceID: res.ID,
			Role:       domain.RoleContributor,
			AddedBy:    actor.SubjectID,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return domain.Resource{}, fmt.Errorf("register %s: %w", typ, err)
	}

	slogx.FromContext(ctx).Info("resource registered", "resource_id", res.ID, "type", res.Type, "parent_id", parentID)
	return res, nil
}

// DeleteResource removes a resource and everything below it.
func (s *MembershipService) DeleteResource(ctx context.Context, actor domain.Identity, resourceID string) error {
	if _, err := s.Engine.Authorize(ctx, actor, resourceID, domain.ActionDelete); err != nil {
		return err
	}

	if err := s.Store.Resources().DeleteResource(ctx, resourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete resource: %w", err)
	}

	slogx.FromContext(ctx).Info("resource deleted", "resource_id", resourceID)
	return nil
}

// ListVisible lists the resources of type typ the actor can read,
// optionally narrowed to the children of parentID. Filtering happens in the
// store query.
func (s *MembershipService) ListVisible(
	ctx context.Context,
	actor domain.Identity,
	typ domain.ResourceType,
	parentID string,
) ([]domain.Resource, error) {
	p, err := s.Engine.ScopeQuery(ctx, actor, typ)
	if err != nil {
		return nil, err
	}

	list, err := s.Store.Resources().ListVisible(ctx, p, parentID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	return list, nil
}
