package permissions

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/shared"
)

// AccessInvalidator evicts resolved permission sets after catalog mutations.
type AccessInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// CatalogValidator checks name uniqueness and the resource/operation matrix
// before a permission is committed.
type CatalogValidator interface {
	ValidatePermissionCreation(ctx context.Context, name string, resource ResourceType, operation OperationType) error
}

// Service orchestrates the permission catalog.
type Service struct {
	repo      Repository
	validator CatalogValidator
	access    AccessInvalidator
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, validator CatalogValidator, access AccessInvalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, validator: validator, access: access, logger: logger}
}

// Create validates and persists a new permission, auditing in the same
// transaction.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (Permission, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Permission{}, shared.NewInvalidOperation("permission name required")
	}
	if err := s.validator.ValidatePermissionCreation(ctx, in.Name, in.Resource, in.Operation); err != nil {
		return Permission{}, err
	}
	var created Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		created, err = tx.Create(ctx, in)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "permission.create",
			ActorID:   actorID,
			TargetIDs: []int64{created.ID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return Permission{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// FindByName looks a permission up by its unique name.
func (s *Service) FindByName(ctx context.Context, name string) (Permission, bool, error) {
	return s.repo.FindByName(ctx, name)
}

// List returns the whole catalog ordered by name.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// ListByResource returns the catalog entries for one resource type.
func (s *Service) ListByResource(ctx context.Context, resource ResourceType) ([]Permission, error) {
	return s.repo.ListByResource(ctx, resource)
}

// Update changes the mutable fields of a permission: description and
// approval flag. Identity fields never change once referenced.
func (s *Service) Update(ctx context.Context, actorID, id int64, description string, requiresApproval bool) (Permission, error) {
	var updated Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		updated, err = tx.Update(ctx, id, strings.TrimSpace(description), requiresApproval)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "permission.update",
			ActorID:   actorID,
			TargetIDs: []int64{id},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return Permission{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.access == nil {
		return
	}
	if err := s.access.InvalidateAll(ctx); err != nil && s.logger != nil {
		s.logger.Warn("invalidate access cache", slog.Any("error", err))
	}
}
