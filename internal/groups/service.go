package groups

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/policy"
	"github.com/sentra-iam/sentra/internal/shared"
)

// AccessInvalidator evicts resolved permission sets after group mutations.
type AccessInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Service orchestrates the group store.
type Service struct {
	repo      Repository
	validator *policy.Validator
	access    AccessInvalidator
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, validator *policy.Validator, access AccessInvalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, validator: validator, access: access, logger: logger}
}

// Create validates and persists a new group, auditing in the same
// transaction.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (Group, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Group{}, shared.NewInvalidOperation("group name required")
	}
	if err := s.validator.ValidateGroupCreation(ctx, policy.GroupCreation{
		Name:    in.Name,
		RoleIDs: in.RoleIDs,
	}); err != nil {
		return Group{}, err
	}
	var created Group
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		created, err = tx.Create(ctx, in)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "group.create",
			ActorID:   actorID,
			TargetIDs: []int64{created.ID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return Group{}, err
	}
	if s.access != nil {
		if err := s.access.InvalidateAll(ctx); err != nil && s.logger != nil {
			s.logger.Warn("invalidate access cache", slog.Any("error", err))
		}
	}
	return created, nil
}

// Get fetches a group by ID.
func (s *Service) Get(ctx context.Context, id int64) (Group, error) {
	return s.repo.Get(ctx, id)
}

// List returns all groups ordered by name.
func (s *Service) List(ctx context.Context) ([]Group, error) {
	return s.repo.List(ctx)
}
