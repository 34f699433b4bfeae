// Package policy enforces structural invariants before catalog mutations
// commit: name uniqueness, referential existence, the resource/operation
// matrix, and hierarchy acyclicity.
package policy

import (
	"context"

	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/shared"
)

// PermissionDirectory exposes the catalog lookups validation needs.
type PermissionDirectory interface {
	FindByName(ctx context.Context, name string) (permissions.Permission, bool, error)
	GetByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error)
}

// RoleDirectory exposes the role lookups validation needs. ChildIDs returns
// the direct child edges of a role.
type RoleDirectory interface {
	NameExists(ctx context.Context, name string) (bool, error)
	ExistingIDs(ctx context.Context, ids []int64) ([]int64, error)
	ChildIDs(ctx context.Context, roleID int64) ([]int64, error)
}

// GroupDirectory exposes the group lookups validation needs.
type GroupDirectory interface {
	NameExists(ctx context.Context, name string) (bool, error)
}

// RoleCreation is the pre-commit view of a new role.
type RoleCreation struct {
	Name          string
	Precedence    int
	PermissionIDs []int64
	ChildRoleIDs  []int64
}

// GroupCreation is the pre-commit view of a new group.
type GroupCreation struct {
	Name    string
	RoleIDs []int64
}

// Validator runs structural checks against the current catalog state. It has
// no side effects beyond returning typed errors.
type Validator struct {
	perms  PermissionDirectory
	roles  RoleDirectory
	groups GroupDirectory
}

// NewValidator wires a Validator with its catalog directories.
func NewValidator(perms PermissionDirectory, roles RoleDirectory, groups GroupDirectory) *Validator {
	return &Validator{perms: perms, roles: roles, groups: groups}
}

// ValidateRoleCreation checks name uniqueness, permission existence and, when
// child roles are given, runs cycle detection over their descendants.
func (v *Validator) ValidateRoleCreation(ctx context.Context, in RoleCreation) error {
	exists, err := v.roles.NameExists(ctx, in.Name)
	if err != nil {
		return err
	}
	if exists {
		return shared.NewDuplicateName("role", in.Name)
	}
	if err := v.requirePermissions(ctx, in.PermissionIDs); err != nil {
		return err
	}
	if err := v.requireRoles(ctx, in.ChildRoleIDs); err != nil {
		return err
	}
	for _, childID := range in.ChildRoleIDs {
		if err := v.checkBranch(ctx, childID, map[int64]struct{}{}); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePermissionCreation checks name uniqueness and the
// resource/operation compatibility matrix.
func (v *Validator) ValidatePermissionCreation(ctx context.Context, name string, resource permissions.ResourceType, operation permissions.OperationType) error {
	_, found, err := v.perms.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if found {
		return shared.NewDuplicateName("permission", name)
	}
	return ValidateOperation(resource, operation)
}

// ValidateGroupCreation checks name uniqueness and role existence.
func (v *Validator) ValidateGroupCreation(ctx context.Context, in GroupCreation) error {
	exists, err := v.groups.NameExists(ctx, in.Name)
	if err != nil {
		return err
	}
	if exists {
		return shared.NewDuplicateName("group", in.Name)
	}
	return v.requireRoles(ctx, in.RoleIDs)
}

func (v *Validator) requirePermissions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := v.perms.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) != len(uniqueIDs(ids)) {
		return shared.NewNotFound("permission")
	}
	return nil
}

func (v *Validator) requireRoles(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := v.roles.ExistingIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) != len(uniqueIDs(ids)) {
		return shared.NewNotFound("role")
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
