package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/shared"
)

type memoryRepo struct {
	users     map[int64]User
	roles     map[int64][]int64
	groups    map[int64][]int64
	overrides map[int64]map[string]OverrideEffect
	audits    []audit.Event
}

func newMemoryRepo(userIDs ...int64) *memoryRepo {
	r := &memoryRepo{
		users:     map[int64]User{},
		roles:     map[int64][]int64{},
		groups:    map[int64][]int64{},
		overrides: map[int64]map[string]OverrideEffect{},
	}
	for _, id := range userIDs {
		r.users[id] = User{ID: id, Active: true}
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Get(ctx context.Context, userID int64) (User, error) {
	u, ok := r.users[userID]
	if !ok {
		return User{}, shared.NewNotFound("user")
	}
	return u, nil
}

func (r *memoryRepo) Exists(ctx context.Context, userID int64) (bool, error) {
	_, ok := r.users[userID]
	return ok, nil
}

func (r *memoryRepo) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return append([]int64(nil), r.roles[userID]...), nil
}

func (r *memoryRepo) GroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	return append([]int64(nil), r.groups[userID]...), nil
}

func (r *memoryRepo) Overrides(ctx context.Context, userID int64) (map[string]OverrideEffect, error) {
	out := map[string]OverrideEffect{}
	for name, effect := range r.overrides[userID] {
		out[name] = effect
	}
	return out, nil
}

func (r *memoryRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	for _, id := range r.roles[userID] {
		if id == roleID {
			return nil
		}
	}
	r.roles[userID] = append(r.roles[userID], roleID)
	return nil
}

func (r *memoryRepo) RemoveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	for i, id := range r.roles[userID] {
		if id == roleID {
			r.roles[userID] = append(r.roles[userID][:i], r.roles[userID][i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) AssignGroup(ctx context.Context, userID, groupID int64) error {
	for _, id := range r.groups[userID] {
		if id == groupID {
			return nil
		}
	}
	r.groups[userID] = append(r.groups[userID], groupID)
	return nil
}

func (r *memoryRepo) RemoveGroup(ctx context.Context, userID, groupID int64) (bool, error) {
	for i, id := range r.groups[userID] {
		if id == groupID {
			r.groups[userID] = append(r.groups[userID][:i], r.groups[userID][i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) UpsertOverride(ctx context.Context, userID int64, o Override) error {
	if r.overrides[userID] == nil {
		r.overrides[userID] = map[string]OverrideEffect{}
	}
	r.overrides[userID][o.PermissionName] = o.Effect
	return nil
}

func (r *memoryRepo) RemoveOverride(ctx context.Context, userID int64, permissionName string) (bool, error) {
	if _, ok := r.overrides[userID][permissionName]; !ok {
		return false, nil
	}
	delete(r.overrides[userID], permissionName)
	return true, nil
}

func (r *memoryRepo) RecordAudit(ctx context.Context, e audit.Event) error {
	r.audits = append(r.audits, e)
	return nil
}

type fixedRoles []int64

func (f fixedRoles) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		for _, known := range f {
			if id == known {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

type fixedGroups []int64

func (f fixedGroups) Exists(ctx context.Context, id int64) (bool, error) {
	for _, known := range f {
		if id == known {
			return true, nil
		}
	}
	return false, nil
}

type recordingInvalidator struct {
	users []int64
}

func (r *recordingInvalidator) InvalidateUser(ctx context.Context, userID int64) error {
	r.users = append(r.users, userID)
	return nil
}

type recordingWarmer struct {
	users []int64
}

func (r *recordingWarmer) EnqueueAccessWarm(ctx context.Context, userID int64) error {
	r.users = append(r.users, userID)
	return nil
}

func TestAssignRoleInvalidatesAndWarms(t *testing.T) {
	repo := newMemoryRepo(5)
	invalidator := &recordingInvalidator{}
	warmer := &recordingWarmer{}
	svc := NewService(repo, fixedRoles{10}, fixedGroups{}, invalidator, warmer, nil)
	ctx := context.Background()

	require.NoError(t, svc.AssignRole(ctx, 1, 5, 10))
	require.Equal(t, []int64{10}, repo.roles[5])
	require.Equal(t, []int64{5}, invalidator.users)
	require.Equal(t, []int64{5}, warmer.users)
	require.Equal(t, "user.role.assign", repo.audits[0].Action)
}

func TestAssignRoleUnknownTargets(t *testing.T) {
	repo := newMemoryRepo(5)
	svc := NewService(repo, fixedRoles{10}, fixedGroups{}, nil, nil, nil)
	ctx := context.Background()

	require.True(t, shared.IsNotFound(svc.AssignRole(ctx, 1, 99, 10)))
	require.True(t, shared.IsNotFound(svc.AssignRole(ctx, 1, 5, 99)))
}

func TestRemoveRoleAbsentIsNoOp(t *testing.T) {
	repo := newMemoryRepo(5)
	invalidator := &recordingInvalidator{}
	svc := NewService(repo, fixedRoles{10}, fixedGroups{}, invalidator, nil, nil)

	require.NoError(t, svc.RemoveRole(context.Background(), 1, 5, 10))
	require.Empty(t, invalidator.users)
	require.Empty(t, repo.audits)
}

func TestAddOverrideValidatesEffect(t *testing.T) {
	repo := newMemoryRepo(5)
	svc := NewService(repo, fixedRoles{}, fixedGroups{}, nil, nil, nil)
	ctx := context.Background()

	err := svc.AddOverride(ctx, 1, 5, Override{PermissionName: "exams:create", Effect: "ALLOW"})
	var invalid *shared.InvalidOperationError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, svc.AddOverride(ctx, 1, 5, Override{PermissionName: "exams:create", Effect: EffectRevoke}))
	require.NoError(t, svc.AddOverride(ctx, 1, 5, Override{PermissionName: "exams:create", Effect: EffectGrant}))

	overrides, err := repo.Overrides(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, map[string]OverrideEffect{"exams:create": EffectGrant}, overrides)
}

func TestAssignGroupUnknownGroup(t *testing.T) {
	repo := newMemoryRepo(5)
	svc := NewService(repo, fixedRoles{}, fixedGroups{3}, nil, nil, nil)
	ctx := context.Background()

	require.True(t, shared.IsNotFound(svc.AssignGroup(ctx, 1, 5, 99)))
	require.NoError(t, svc.AssignGroup(ctx, 1, 5, 3))
}
