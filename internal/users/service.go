package users

import (
	"context"
	"log/slog"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/shared"
)

// AccessInvalidator evicts one user's resolved permission set. Every
// mutation that can change a user's effective permissions goes through it.
type AccessInvalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// RoleDirectory checks role existence for assignments.
type RoleDirectory interface {
	ExistingIDs(ctx context.Context, ids []int64) ([]int64, error)
}

// GroupDirectory checks group existence for assignments.
type GroupDirectory interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Warmer re-populates a user's cached permission set in the background.
type Warmer interface {
	EnqueueAccessWarm(ctx context.Context, userID int64) error
}

// Service owns role/group membership and permission overrides per user.
type Service struct {
	repo   Repository
	roles  RoleDirectory
	groups GroupDirectory
	access AccessInvalidator
	warmer Warmer
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, roles RoleDirectory, groups GroupDirectory, access AccessInvalidator, warmer Warmer, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, groups: groups, access: access, warmer: warmer, logger: logger}
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, userID int64) (User, error) {
	return s.repo.Get(ctx, userID)
}

// AssignRole attaches a role directly to a user and evicts the user's cached
// permission set.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	found, err := s.roles.ExistingIDs(ctx, []int64{roleID})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return shared.NewNotFound("role")
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.AssignRole(ctx, userID, roleID); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "user.role.assign",
			ActorID:   actorID,
			TargetIDs: []int64{userID, roleID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID)
	return nil
}

// RemoveRole detaches a directly assigned role. Removing an absent
// assignment is a no-op.
func (s *Service) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	var removed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		removed, err = tx.RemoveRole(ctx, userID, roleID)
		if err != nil || !removed {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "user.role.remove",
			ActorID:   actorID,
			TargetIDs: []int64{userID, roleID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	if removed {
		s.afterMutation(ctx, userID)
	}
	return nil
}

// AssignGroup attaches a group to a user.
func (s *Service) AssignGroup(ctx context.Context, actorID, userID, groupID int64) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	ok, err := s.groups.Exists(ctx, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NewNotFound("group")
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.AssignGroup(ctx, userID, groupID); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "user.group.assign",
			ActorID:   actorID,
			TargetIDs: []int64{userID, groupID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID)
	return nil
}

// RemoveGroup detaches a group from a user. Removing an absent assignment is
// a no-op.
func (s *Service) RemoveGroup(ctx context.Context, actorID, userID, groupID int64) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	var removed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		removed, err = tx.RemoveGroup(ctx, userID, groupID)
		if err != nil || !removed {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "user.group.remove",
			ActorID:   actorID,
			TargetIDs: []int64{userID, groupID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	if removed {
		s.afterMutation(ctx, userID)
	}
	return nil
}

// AddOverride upserts a per-user permission exception: one effect per
// permission name, later writes replace earlier ones.
func (s *Service) AddOverride(ctx context.Context, actorID, userID int64, o Override) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	if o.PermissionName == "" {
		return shared.NewInvalidOperation("override permission name required")
	}
	if o.Effect != EffectGrant && o.Effect != EffectRevoke {
		return shared.NewInvalidOperation("override effect must be GRANT or REVOKE")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.UpsertOverride(ctx, userID, o); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "user.override.set",
			ActorID:   actorID,
			TargetIDs: []int64{userID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, userID)
	return nil
}

// RemoveOverride deletes a per-user exception. Removing an absent override
// is a no-op.
func (s *Service) RemoveOverride(ctx context.Context, actorID, userID int64, permissionName string) error {
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	var removed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		removed, err = tx.RemoveOverride(ctx, userID, permissionName)
		if err != nil || !removed {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "user.override.remove",
			ActorID:   actorID,
			TargetIDs: []int64{userID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	if removed {
		s.afterMutation(ctx, userID)
	}
	return nil
}

func (s *Service) requireUser(ctx context.Context, userID int64) error {
	exists, err := s.repo.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return shared.NewNotFound("user")
	}
	return nil
}

func (s *Service) afterMutation(ctx context.Context, userID int64) {
	if s.access != nil {
		if err := s.access.InvalidateUser(ctx, userID); err != nil && s.logger != nil {
			s.logger.Warn("invalidate user access cache", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	if s.warmer != nil {
		if err := s.warmer.EnqueueAccessWarm(ctx, userID); err != nil && s.logger != nil {
			s.logger.Warn("enqueue access warm", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}
