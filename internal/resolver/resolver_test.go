package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/features"
	"github.com/sentra-iam/sentra/internal/groups"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/roles"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/users"
)

type fixture struct {
	users     map[int64]bool
	userRoles map[int64][]int64
	userGrps  map[int64][]int64
	overrides map[int64]map[string]users.OverrideEffect

	roles    map[int64]roles.Role
	closures map[int64][]roles.Role
	groups   map[int64]groups.Group

	perms    map[string]permissions.Permission
	features map[string]features.Feature
	featIDs  map[int64]features.Feature
}

func newFixture() *fixture {
	return &fixture{
		users:     map[int64]bool{},
		userRoles: map[int64][]int64{},
		userGrps:  map[int64][]int64{},
		overrides: map[int64]map[string]users.OverrideEffect{},
		roles:     map[int64]roles.Role{},
		closures:  map[int64][]roles.Role{},
		groups:    map[int64]groups.Group{},
		perms:     map[string]permissions.Permission{},
		features:  map[string]features.Feature{},
		featIDs:   map[int64]features.Feature{},
	}
}

func (f *fixture) Exists(ctx context.Context, id int64) (bool, error) {
	return f.users[id], nil
}

func (f *fixture) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return f.userRoles[userID], nil
}

func (f *fixture) GroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	return f.userGrps[userID], nil
}

func (f *fixture) Overrides(ctx context.Context, userID int64) (map[string]users.OverrideEffect, error) {
	return f.overrides[userID], nil
}

func (f *fixture) Get(ctx context.Context, id int64) (roles.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return roles.Role{}, shared.NewNotFound("role")
	}
	return role, nil
}

func (f *fixture) AllChildRoles(ctx context.Context, id int64) ([]roles.Role, error) {
	return f.closures[id], nil
}

type groupReader struct{ f *fixture }

func (g groupReader) Get(ctx context.Context, id int64) (groups.Group, error) {
	grp, ok := g.f.groups[id]
	if !ok {
		return groups.Group{}, shared.NewNotFound("group")
	}
	return grp, nil
}

func (f *fixture) FindByName(ctx context.Context, name string) (permissions.Permission, bool, error) {
	p, ok := f.perms[name]
	return p, ok, nil
}

type featureReader struct{ f *fixture }

func (r featureReader) GetByCode(ctx context.Context, code string) (features.Feature, error) {
	feat, ok := r.f.features[code]
	if !ok {
		return features.Feature{}, shared.NewNotFound("feature")
	}
	return feat, nil
}

func (r featureReader) AllPermissions(ctx context.Context, code string) ([]permissions.Permission, error) {
	feat, ok := r.f.features[code]
	if !ok {
		return nil, shared.NewNotFound("feature")
	}
	var out []permissions.Permission
	current := &feat
	for current != nil {
		for _, id := range current.PermissionIDs {
			for _, p := range r.f.perms {
				if p.ID == id {
					out = append(out, p)
				}
			}
		}
		if current.ParentID == nil {
			break
		}
		parent := r.f.featIDs[*current.ParentID]
		current = &parent
	}
	return out, nil
}

func (f *fixture) perm(id int64, name string) permissions.Permission {
	p := permissions.Permission{ID: id, Name: name}
	f.perms[name] = p
	return p
}

func (f *fixture) service() *Service {
	return NewService(f, f, groupReader{f}, f, featureReader{f}, nil, nil, nil)
}

func names(perms []permissions.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	return out
}

func TestEffectivePermissionsUnionsRolesGroupsAndClosure(t *testing.T) {
	f := newFixture()
	read := f.perm(1, "exams:read")
	create := f.perm(2, "exams:create")
	grade := f.perm(3, "exams:grade")
	report := f.perm(4, "reports:view_all")

	f.roles[10] = roles.Role{ID: 10, Name: "EDITOR", Permissions: []permissions.Permission{create}}
	f.roles[11] = roles.Role{ID: 11, Name: "VIEWER", Permissions: []permissions.Permission{read}}
	f.roles[12] = roles.Role{ID: 12, Name: "GRADER", Permissions: []permissions.Permission{grade, read}}
	f.roles[13] = roles.Role{ID: 13, Name: "ANALYST", Permissions: []permissions.Permission{report}}
	// EDITOR inherits VIEWER through the hierarchy closure.
	f.closures[10] = []roles.Role{f.roles[11]}
	f.groups[20] = groups.Group{ID: 20, Name: "faculty", RoleIDs: []int64{12, 13}}

	f.users[5] = true
	f.userRoles[5] = []int64{10}
	f.userGrps[5] = []int64{20}

	perms, err := f.service().EffectivePermissions(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []string{"exams:create", "exams:grade", "exams:read", "reports:view_all"}, names(perms))
}

func TestEffectivePermissionsAppliesOverridesLast(t *testing.T) {
	f := newFixture()
	read := f.perm(1, "exams:read")
	create := f.perm(2, "exams:create")
	f.perm(3, "reports:export")

	f.roles[10] = roles.Role{ID: 10, Name: "EDITOR", Permissions: []permissions.Permission{read, create}}
	f.users[5] = true
	f.userRoles[5] = []int64{10}
	f.overrides[5] = map[string]users.OverrideEffect{
		"exams:create":   users.EffectRevoke,
		"reports:export": users.EffectGrant,
		"does:not:exist": users.EffectGrant,
	}

	svc := f.service()
	perms, err := svc.EffectivePermissions(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []string{"exams:read", "reports:export"}, names(perms))

	ok, err := svc.HasPermission(context.Background(), 5, "exams:create")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEffectivePermissionsUnknownUser(t *testing.T) {
	f := newFixture()
	_, err := f.service().EffectivePermissions(context.Background(), 99)
	require.True(t, shared.IsNotFound(err))
}

func TestCheckPermissionsBatch(t *testing.T) {
	f := newFixture()
	read := f.perm(1, "exams:read")
	f.roles[10] = roles.Role{ID: 10, Name: "VIEWER", Permissions: []permissions.Permission{read}}
	f.users[5] = true
	f.userRoles[5] = []int64{10}

	result, err := f.service().CheckPermissions(context.Background(), 5, []string{"exams:read", "exams:create"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"exams:read": true, "exams:create": false}, result)
}

func TestFeatureAccess(t *testing.T) {
	f := newFixture()
	dispense := f.perm(1, "pharmacy:dispense")
	f.roles[10] = roles.Role{ID: 10, Name: "PHARMACIST", Permissions: []permissions.Permission{dispense}}
	f.users[5] = true
	f.userRoles[5] = []int64{10}
	f.users[6] = true

	feat := features.Feature{
		ID:            1,
		Code:          "pharmacy",
		Active:        true,
		Operations:    []string{"DISPENSE", "AUDIT"},
		PermissionIDs: []int64{1},
	}
	f.features["pharmacy"] = feat
	f.featIDs[1] = feat
	svc := f.service()
	ctx := context.Background()

	access, err := svc.ResolveFeatureAccess(ctx, 5, "pharmacy")
	require.NoError(t, err)
	require.True(t, access.HasAccess)
	require.Equal(t, []string{"DISPENSE", "AUDIT"}, access.AllowedOperations)

	// A user with no attached permission gets no operations.
	access, err = svc.ResolveFeatureAccess(ctx, 6, "pharmacy")
	require.NoError(t, err)
	require.False(t, access.HasAccess)
	require.Empty(t, access.AllowedOperations)

	ok, err := svc.HasFeatureOperation(ctx, 5, "pharmacy", "DISPENSE")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.HasFeatureOperation(ctx, 5, "pharmacy", "DELETE")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFeatureAccessInactiveFeature(t *testing.T) {
	f := newFixture()
	dispense := f.perm(1, "pharmacy:dispense")
	f.roles[10] = roles.Role{ID: 10, Name: "PHARMACIST", Permissions: []permissions.Permission{dispense}}
	f.users[5] = true
	f.userRoles[5] = []int64{10}

	feat := features.Feature{ID: 1, Code: "pharmacy", Active: false, PermissionIDs: []int64{1}}
	f.features["pharmacy"] = feat
	f.featIDs[1] = feat

	access, err := f.service().ResolveFeatureAccess(context.Background(), 5, "pharmacy")
	require.NoError(t, err)
	require.False(t, access.HasAccess)
	require.Empty(t, access.AllowedOperations)
}
