package features

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/policy"
	"github.com/sentra-iam/sentra/internal/shared"
)

// AccessInvalidator evicts the coarse feature-access cache. Feature mutations
// are rare administrative events, so evicting everything is acceptable.
type AccessInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// PermissionLookup resolves permission references on features.
type PermissionLookup interface {
	GetByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error)
}

// Service orchestrates the feature catalog.
type Service struct {
	repo   Repository
	perms  PermissionLookup
	access AccessInvalidator
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, perms PermissionLookup, access AccessInvalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, perms: perms, access: access, logger: logger}
}

// Create validates and persists a new feature.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (Feature, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		return Feature{}, shared.NewInvalidOperation("feature code required")
	}
	if err := s.requirePermissions(ctx, in.PermissionIDs); err != nil {
		return Feature{}, err
	}
	if in.ParentID != nil {
		if _, err := s.repo.Get(ctx, *in.ParentID); err != nil {
			return Feature{}, err
		}
	}
	var created Feature
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		created, err = tx.Create(ctx, in)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "feature.create",
			ActorID:   actorID,
			TargetIDs: []int64{created.ID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return Feature{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// Update replaces the mutable fields of a feature. Re-parenting runs the same
// path-based cycle detection as the role hierarchy.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (Feature, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Feature{}, err
	}
	if err := s.requirePermissions(ctx, in.PermissionIDs); err != nil {
		return Feature{}, err
	}
	if in.ParentID != nil {
		if _, err := s.repo.Get(ctx, *in.ParentID); err != nil {
			return Feature{}, err
		}
		if err := policy.CheckFeatureCycle(ctx, s.repo, id, *in.ParentID); err != nil {
			return Feature{}, err
		}
	}
	in.Code = current.Code
	var updated Feature
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		updated, err = tx.Update(ctx, id, in)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "feature.update",
			ActorID:   actorID,
			TargetIDs: []int64{id},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return Feature{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a feature. A feature with child features cannot be deleted.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	children, err := s.repo.ChildIDs(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return shared.NewInvalidOperation("cannot delete feature with child features")
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "feature.delete",
			ActorID:   actorID,
			TargetIDs: []int64{id},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// GetByCode fetches a feature by its unique code.
func (s *Service) GetByCode(ctx context.Context, code string) (Feature, error) {
	return s.repo.GetByCode(ctx, code)
}

// AllPermissions unions a feature's own permissions with every ancestor's,
// walking parent pointers upward. A visited set guards against pre-existing
// cycles in stored data.
func (s *Service) AllPermissions(ctx context.Context, code string) ([]permissions.Permission, error) {
	feature, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	idSet := map[int64]struct{}{}
	visited := map[int64]struct{}{}
	current := &feature
	for current != nil {
		if _, ok := visited[current.ID]; ok {
			break
		}
		visited[current.ID] = struct{}{}
		for _, permID := range current.PermissionIDs {
			idSet[permID] = struct{}{}
		}
		if current.ParentID == nil {
			break
		}
		parent, err := s.repo.Get(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
		current = &parent
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	return s.perms.GetByIDs(ctx, ids)
}

// Tree returns the full feature hierarchy as nested nodes for display.
func (s *Service) Tree(ctx context.Context) ([]Node, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	byParent := map[int64][]Feature{}
	var roots []Feature
	for _, f := range all {
		if f.ParentID == nil {
			roots = append(roots, f)
			continue
		}
		byParent[*f.ParentID] = append(byParent[*f.ParentID], f)
	}
	var build func(f Feature, seen map[int64]struct{}) Node
	build = func(f Feature, seen map[int64]struct{}) Node {
		node := Node{Feature: f}
		for _, child := range byParent[f.ID] {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			node.Children = append(node.Children, build(child, seen))
		}
		return node
	}
	nodes := make([]Node, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, build(root, map[int64]struct{}{root.ID: {}}))
	}
	return nodes, nil
}

func (s *Service) requirePermissions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	unique := map[int64]struct{}{}
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	found, err := s.perms.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) != len(unique) {
		return shared.NewNotFound("permission")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.access == nil {
		return
	}
	if err := s.access.InvalidateAll(ctx); err != nil && s.logger != nil {
		s.logger.Warn("invalidate access cache", slog.Any("error", err))
	}
}
