package resolver

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sentra-iam/sentra/internal/features"
	"github.com/sentra-iam/sentra/internal/groups"
	"github.com/sentra-iam/sentra/internal/observability"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/roles"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/users"
)

// UserDirectory supplies the assignments that feed a resolution.
type UserDirectory interface {
	Exists(ctx context.Context, id int64) (bool, error)
	RoleIDs(ctx context.Context, userID int64) ([]int64, error)
	GroupIDs(ctx context.Context, userID int64) ([]int64, error)
	Overrides(ctx context.Context, userID int64) (map[string]users.OverrideEffect, error)
}

// RoleHierarchy reads roles and their transitive descendants.
type RoleHierarchy interface {
	Get(ctx context.Context, id int64) (roles.Role, error)
	AllChildRoles(ctx context.Context, id int64) ([]roles.Role, error)
}

// GroupDirectory reads groups with their role assignments.
type GroupDirectory interface {
	Get(ctx context.Context, id int64) (groups.Group, error)
}

// PermissionLookup resolves permission names used in overrides.
type PermissionLookup interface {
	FindByName(ctx context.Context, name string) (permissions.Permission, bool, error)
}

// FeatureDirectory reads features and their aggregated permissions.
type FeatureDirectory interface {
	GetByCode(ctx context.Context, code string) (features.Feature, error)
	AllPermissions(ctx context.Context, code string) ([]permissions.Permission, error)
}

// Service computes effective permission sets for users.
type Service struct {
	users    UserDirectory
	roles    RoleHierarchy
	groups   GroupDirectory
	perms    PermissionLookup
	features FeatureDirectory
	cache    *Cache
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewService(
	users UserDirectory,
	roleDir RoleHierarchy,
	groupDir GroupDirectory,
	perms PermissionLookup,
	featureDir FeatureDirectory,
	cache *Cache,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		users:    users,
		roles:    roleDir,
		groups:   groupDir,
		perms:    perms,
		features: featureDir,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

// EffectivePermissions returns the full permission set for a user,
// cached until the next invalidation. Overrides are applied after all
// role and group contributions so a REVOKE always wins over any grant.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]permissions.Permission, error) {
	key, err := s.cache.UserKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []permissions.Permission
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.compute(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) compute(ctx context.Context, userID int64) ([]permissions.Permission, error) {
	start := time.Now()
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.NewNotFound("user")
	}

	roleIDs, err := s.users.RoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	groupIDs, err := s.users.GroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, groupID := range groupIDs {
		group, err := s.groups.Get(ctx, groupID)
		if err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		roleIDs = append(roleIDs, group.RoleIDs...)
	}

	set := make(map[string]permissions.Permission)
	seenRoles := make(map[int64]struct{}, len(roleIDs))
	for _, roleID := range roleIDs {
		if _, ok := seenRoles[roleID]; ok {
			continue
		}
		seenRoles[roleID] = struct{}{}

		role, err := s.roles.Get(ctx, roleID)
		if err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, perm := range role.Permissions {
			set[perm.Name] = perm
		}
		descendants, err := s.roles.AllChildRoles(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, child := range descendants {
			for _, perm := range child.Permissions {
				set[perm.Name] = perm
			}
		}
	}

	overrides, err := s.users.Overrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	for name, effect := range overrides {
		switch effect {
		case users.EffectRevoke:
			delete(set, name)
		case users.EffectGrant:
			perm, found, err := s.perms.FindByName(ctx, name)
			if err != nil {
				return nil, err
			}
			if !found {
				if s.logger != nil {
					s.logger.Warn("override references unknown permission", slog.String("permission", name), slog.Int64("user_id", userID))
				}
				continue
			}
			set[perm.Name] = perm
		}
	}

	out := make([]permissions.Permission, 0, len(set))
	for _, perm := range set {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	s.metrics.ObserveResolution(time.Since(start))
	return out, nil
}

// HasPermission reports whether the user's effective set contains name.
func (s *Service) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, perm := range perms {
		if perm.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CheckPermissions evaluates several permission names in one resolution.
func (s *Service) CheckPermissions(ctx context.Context, userID int64, names []string) (map[string]bool, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		held[perm.Name] = struct{}{}
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		_, ok := held[name]
		result[name] = ok
	}
	return result, nil
}

// FeatureAccess summarises a user's standing on one feature.
type FeatureAccess struct {
	Feature           string   `json:"feature"`
	HasAccess         bool     `json:"hasAccess"`
	AllowedOperations []string `json:"allowedOperations"`
}

// ResolveFeatureAccess reports whether the user holds any permission
// attached to the feature or its ancestors. Inactive features never
// grant access.
func (s *Service) ResolveFeatureAccess(ctx context.Context, userID int64, code string) (FeatureAccess, error) {
	feature, err := s.features.GetByCode(ctx, code)
	if err != nil {
		return FeatureAccess{}, err
	}
	access := FeatureAccess{Feature: feature.Code, AllowedOperations: []string{}}
	if !feature.Active {
		return access, nil
	}
	required, err := s.features.AllPermissions(ctx, feature.Code)
	if err != nil {
		return FeatureAccess{}, err
	}
	effective, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return FeatureAccess{}, err
	}
	held := make(map[string]struct{}, len(effective))
	for _, perm := range effective {
		held[perm.Name] = struct{}{}
	}
	for _, perm := range required {
		if _, ok := held[perm.Name]; ok {
			access.HasAccess = true
			break
		}
	}
	if access.HasAccess {
		access.AllowedOperations = append(access.AllowedOperations, feature.Operations...)
	}
	return access, nil
}

// HasFeatureOperation reports whether the user can perform op within the
// feature. The operation must be declared on the feature itself.
func (s *Service) HasFeatureOperation(ctx context.Context, userID int64, code, op string) (bool, error) {
	access, err := s.ResolveFeatureAccess(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if !access.HasAccess {
		return false, nil
	}
	for _, allowed := range access.AllowedOperations {
		if allowed == op {
			return true, nil
		}
	}
	return false, nil
}
