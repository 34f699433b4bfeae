package roles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/policy"
	"github.com/sentra-iam/sentra/internal/shared"
)

type memoryRepo struct {
	roles   map[int64]Role
	nextID  int64
	audits  []audit.Event
	getHook func(id int64)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{roles: map[int64]Role{}}
}

func (r *memoryRepo) add(id int64, name string, precedence int, childIDs ...int64) {
	r.roles[id] = Role{
		ID:         id,
		Name:       name,
		Precedence: precedence,
		ChildIDs:   append([]int64(nil), childIDs...),
		CreatedAt:  time.Now(),
	}
	if id > r.nextID {
		r.nextID = id
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Create(ctx context.Context, in CreateInput) (Role, error) {
	r.nextID++
	role := Role{
		ID:         r.nextID,
		Name:       in.Name,
		Precedence: in.Precedence,
		System:     in.System,
		ChildIDs:   append([]int64(nil), in.ChildRoleIDs...),
		CreatedAt:  time.Now(),
	}
	r.roles[role.ID] = role
	return role, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Role, error) {
	if r.getHook != nil {
		r.getHook(id)
	}
	role, ok := r.roles[id]
	if !ok {
		return Role{}, shared.NewNotFound("role")
	}
	role.ChildIDs = append([]int64(nil), role.ChildIDs...)
	return role, nil
}

func (r *memoryRepo) List(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *memoryRepo) NameExists(ctx context.Context, name string) (bool, error) {
	for _, role := range r.roles {
		if role.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	seen := map[int64]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := r.roles[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memoryRepo) ChildIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return append([]int64(nil), r.roles[roleID].ChildIDs...), nil
}

func (r *memoryRepo) ParentIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for id, role := range r.roles {
		for _, childID := range role.ChildIDs {
			if childID == roleID {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (r *memoryRepo) AddChild(ctx context.Context, parentID, childID int64) error {
	parent := r.roles[parentID]
	for _, id := range parent.ChildIDs {
		if id == childID {
			return nil
		}
	}
	parent.ChildIDs = append(parent.ChildIDs, childID)
	r.roles[parentID] = parent
	return nil
}

func (r *memoryRepo) RemoveChild(ctx context.Context, parentID, childID int64) (bool, error) {
	parent := r.roles[parentID]
	for i, id := range parent.ChildIDs {
		if id == childID {
			parent.ChildIDs = append(parent.ChildIDs[:i], parent.ChildIDs[i+1:]...)
			r.roles[parentID] = parent
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) RecordAudit(ctx context.Context, e audit.Event) error {
	r.audits = append(r.audits, e)
	return nil
}

type emptyPerms struct{}

func (emptyPerms) FindByName(ctx context.Context, name string) (permissions.Permission, bool, error) {
	return permissions.Permission{}, false, nil
}

func (emptyPerms) GetByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error) {
	return nil, nil
}

type emptyGroups struct{}

func (emptyGroups) NameExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}

func newTestService(repo *memoryRepo) *Service {
	validator := policy.NewValidator(emptyPerms{}, repo, emptyGroups{})
	return NewService(repo, validator, nil, nil, nil, 16)
}

func TestCreateRejectsChildNotStrictlyBelow(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(1, "EDITOR", 20)
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), 1, CreateInput{
		Name:         "ADMIN",
		Precedence:   20,
		ChildRoleIDs: []int64{1},
	})
	var invalid *shared.InvalidOperationError
	require.ErrorAs(t, err, &invalid)

	created, err := svc.Create(context.Background(), 1, CreateInput{
		Name:         "ADMIN",
		Precedence:   10,
		ChildRoleIDs: []int64{1},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, created.ChildIDs)
}

func TestCreateAuditsInSameUnit(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), 7, CreateInput{Name: "VIEWER", Precedence: 100})
	require.NoError(t, err)
	require.Len(t, repo.audits, 1)
	require.Equal(t, "role.create", repo.audits[0].Action)
	require.Equal(t, int64(7), repo.audits[0].ActorID)
	require.Equal(t, []int64{created.ID}, repo.audits[0].TargetIDs)
}

func TestAddChildRoleRejectsCycle(t *testing.T) {
	repo := newMemoryRepo()
	// Stored precedences are inconsistent with the edge A -> B, which is
	// exactly when only the reachability check stands between us and a
	// cycle.
	repo.add(1, "A", 10, 2)
	repo.add(2, "B", 5)
	svc := newTestService(repo)

	err := svc.AddChildRole(context.Background(), 1, 2, 1)
	var cyc *shared.CircularHierarchyError
	require.ErrorAs(t, err, &cyc)
}

func TestAddChildRoleRejectsPrecedenceInversion(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(1, "ADMIN", 10)
	repo.add(2, "EDITOR", 20)
	svc := newTestService(repo)

	err := svc.AddChildRole(context.Background(), 1, 2, 1)
	var invalid *shared.InvalidOperationError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, svc.AddChildRole(context.Background(), 1, 1, 2))
	require.Equal(t, "role.child.add", repo.audits[len(repo.audits)-1].Action)
}

func TestAllChildRolesDeduplicatesDiamond(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(1, "A", 10, 2, 3)
	repo.add(2, "B", 20, 4)
	repo.add(3, "C", 30, 4)
	repo.add(4, "D", 40)
	svc := newTestService(repo)

	closure, err := svc.AllChildRoles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, closure, 3)
	require.Equal(t, "B", closure[0].Name)
	require.Equal(t, "C", closure[1].Name)
	require.Equal(t, "D", closure[2].Name)
}

func TestAllChildRolesCacheEvictedOnEdgeChange(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(1, "A", 10, 2)
	repo.add(2, "B", 20)
	repo.add(3, "C", 30)
	svc := newTestService(repo)
	ctx := context.Background()

	closure, err := svc.AllChildRoles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, closure, 1)

	// A direct repo edit is invisible while the closure is cached.
	repo.add(2, "B", 20, 3)
	closure, err = svc.AllChildRoles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, closure, 1)

	// A service-level edit evicts the ancestor chain.
	require.NoError(t, svc.AddChildRole(ctx, 1, 2, 3))
	closure, err = svc.AllChildRoles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, closure, 2)
}

func TestAllChildRolesDiscardsClosureComputedAcrossEdit(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(1, "A", 10, 2)
	repo.add(2, "B", 20)
	repo.add(3, "C", 30)
	svc := newTestService(repo)
	ctx := context.Background()

	// A hierarchy edit commits while the first traversal is mid-flight,
	// after it has read A's edges but before it finishes. The traversal
	// returns the pre-edit view but must not store it.
	repo.getHook = func(id int64) {
		if id != 2 {
			return
		}
		repo.getHook = nil
		require.NoError(t, svc.AddChildRole(ctx, 1, 1, 3))
	}

	closure, err := svc.AllChildRoles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, closure, 1)
	require.Equal(t, "B", closure[0].Name)

	closure, err = svc.AllChildRoles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, closure, 2)
	require.Equal(t, "B", closure[0].Name)
	require.Equal(t, "C", closure[1].Name)
}

func TestRemoveChildRoleIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(1, "A", 10)
	repo.add(2, "B", 20)
	svc := newTestService(repo)

	require.NoError(t, svc.RemoveChildRole(context.Background(), 1, 1, 2))
	require.Empty(t, repo.audits)
}
