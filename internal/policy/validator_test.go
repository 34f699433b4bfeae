package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/shared"
)

type memoryCatalog struct {
	perms     map[int64]permissions.Permission
	roleNames map[string]bool
	roleIDs   map[int64]bool
	children  map[int64][]int64
	groups    map[string]bool
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		perms:     map[int64]permissions.Permission{},
		roleNames: map[string]bool{},
		roleIDs:   map[int64]bool{},
		children:  map[int64][]int64{},
		groups:    map[string]bool{},
	}
}

func (c *memoryCatalog) FindByName(ctx context.Context, name string) (permissions.Permission, bool, error) {
	for _, p := range c.perms {
		if p.Name == name {
			return p, true, nil
		}
	}
	return permissions.Permission{}, false, nil
}

func (c *memoryCatalog) GetByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error) {
	var out []permissions.Permission
	seen := map[int64]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := c.perms[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *memoryCatalog) NameExists(ctx context.Context, name string) (bool, error) {
	return c.roleNames[name] || c.groups[name], nil
}

func (c *memoryCatalog) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	seen := map[int64]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if c.roleIDs[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *memoryCatalog) ChildIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return c.children[roleID], nil
}

func (c *memoryCatalog) addRole(id int64, name string, childIDs ...int64) {
	c.roleIDs[id] = true
	if name != "" {
		c.roleNames[name] = true
	}
	c.children[id] = childIDs
}

func newTestValidator(c *memoryCatalog) *Validator {
	return NewValidator(c, c, c)
}

func TestValidateOperationMatrix(t *testing.T) {
	cases := []struct {
		resource  permissions.ResourceType
		operation permissions.OperationType
		ok        bool
	}{
		{permissions.ResourceInventory, permissions.OpCreate, true},
		{permissions.ResourceInventory, permissions.OpApprove, false},
		{permissions.ResourcePrescription, permissions.OpApprove, true},
		{permissions.ResourcePrescription, permissions.OpDelete, false},
		{permissions.ResourceReport, permissions.OpExport, true},
		{permissions.ResourceReport, permissions.OpCreate, false},
		// Resource types without a matrix entry are unconstrained.
		{permissions.ResourceQuestion, permissions.OpApprove, true},
		{permissions.ResourceRBAC, permissions.OpManage, true},
	}
	for _, tc := range cases {
		err := ValidateOperation(tc.resource, tc.operation)
		if tc.ok {
			require.NoError(t, err, "%s/%s", tc.resource, tc.operation)
			continue
		}
		var invalid *shared.InvalidOperationError
		require.ErrorAs(t, err, &invalid, "%s/%s", tc.resource, tc.operation)
	}
}

func TestValidatePermissionCreationDuplicate(t *testing.T) {
	catalog := newMemoryCatalog()
	catalog.perms[1] = permissions.Permission{ID: 1, Name: "inventory:read"}
	v := newTestValidator(catalog)

	err := v.ValidatePermissionCreation(context.Background(),
		"inventory:read", permissions.ResourceInventory, permissions.OpRead)
	var dup *shared.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "permission", dup.Entity)
}

func TestValidateRoleCreationMissingPermission(t *testing.T) {
	catalog := newMemoryCatalog()
	v := newTestValidator(catalog)

	err := v.ValidateRoleCreation(context.Background(), RoleCreation{
		Name:          "EDITOR",
		PermissionIDs: []int64{42},
	})
	require.True(t, shared.IsNotFound(err))
}

func TestValidateRoleCreationDuplicateName(t *testing.T) {
	catalog := newMemoryCatalog()
	catalog.addRole(1, "ADMIN")
	v := newTestValidator(catalog)

	err := v.ValidateRoleCreation(context.Background(), RoleCreation{Name: "ADMIN"})
	var dup *shared.DuplicateNameError
	require.ErrorAs(t, err, &dup)
}

func TestCheckHierarchyCycleRejectsBackEdge(t *testing.T) {
	catalog := newMemoryCatalog()
	// A -> B -> C already exists; adding C -> A closes a cycle.
	catalog.addRole(1, "A", 2)
	catalog.addRole(2, "B", 3)
	catalog.addRole(3, "C")
	v := newTestValidator(catalog)
	ctx := context.Background()

	err := v.CheckHierarchyCycle(ctx, 3, 1)
	var cyc *shared.CircularHierarchyError
	require.ErrorAs(t, err, &cyc)

	require.NoError(t, v.CheckHierarchyCycle(ctx, 1, 3))
	err = v.CheckHierarchyCycle(ctx, 2, 2)
	require.ErrorAs(t, err, &cyc)
}

func TestValidateRoleCreationDiamondIsLegal(t *testing.T) {
	catalog := newMemoryCatalog()
	// B and C both point at D. Reaching D twice through different
	// branches is reconvergence, not a cycle.
	catalog.addRole(2, "B", 4)
	catalog.addRole(3, "C", 4)
	catalog.addRole(4, "D")
	v := newTestValidator(catalog)

	err := v.ValidateRoleCreation(context.Background(), RoleCreation{
		Name:         "A",
		ChildRoleIDs: []int64{2, 3},
	})
	require.NoError(t, err)
}

func TestValidateRoleCreationPathRepeatIsCycle(t *testing.T) {
	catalog := newMemoryCatalog()
	catalog.addRole(2, "B", 3)
	catalog.addRole(3, "C", 2)
	v := newTestValidator(catalog)

	err := v.ValidateRoleCreation(context.Background(), RoleCreation{
		Name:         "A",
		ChildRoleIDs: []int64{2},
	})
	var cyc *shared.CircularHierarchyError
	require.ErrorAs(t, err, &cyc)
}

type memoryFeatureParents map[int64]*int64

func (m memoryFeatureParents) ParentID(ctx context.Context, featureID int64) (*int64, error) {
	parent, ok := m[featureID]
	if !ok {
		return nil, errors.New("feature missing")
	}
	return parent, nil
}

func TestCheckFeatureCycle(t *testing.T) {
	id := func(v int64) *int64 { return &v }
	ctx := context.Background()

	// 1 <- 2 <- 3: assigning 3 as parent of 1 walks back to 1.
	parents := memoryFeatureParents{1: nil, 2: id(1), 3: id(2)}
	err := CheckFeatureCycle(ctx, parents, 1, 3)
	var cyc *shared.CircularHierarchyError
	require.ErrorAs(t, err, &cyc)

	var invalid *shared.InvalidOperationError
	require.ErrorAs(t, CheckFeatureCycle(ctx, parents, 2, 2), &invalid)

	require.NoError(t, CheckFeatureCycle(ctx, parents, 3, 1))
}
