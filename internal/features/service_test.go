package features

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/shared"
)

type memoryRepo struct {
	features map[int64]Feature
	nextID   int64
	audits   []audit.Event
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{features: map[int64]Feature{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Create(ctx context.Context, in Input) (Feature, error) {
	r.nextID++
	f := Feature{
		ID:            r.nextID,
		Code:          in.Code,
		Name:          in.Name,
		Description:   in.Description,
		Active:        in.Active,
		Operations:    append([]string(nil), in.Operations...),
		PermissionIDs: append([]int64(nil), in.PermissionIDs...),
		ParentID:      in.ParentID,
		CreatedAt:     time.Now(),
	}
	r.features[f.ID] = f
	return f, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, in Input) (Feature, error) {
	f, ok := r.features[id]
	if !ok {
		return Feature{}, shared.NewNotFound("feature")
	}
	f.Code = in.Code
	f.Name = in.Name
	f.Description = in.Description
	f.Active = in.Active
	f.Operations = append([]string(nil), in.Operations...)
	f.PermissionIDs = append([]int64(nil), in.PermissionIDs...)
	f.ParentID = in.ParentID
	f.UpdatedAt = time.Now()
	r.features[id] = f
	return f, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.features[id]; !ok {
		return shared.NewNotFound("feature")
	}
	delete(r.features, id)
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Feature, error) {
	f, ok := r.features[id]
	if !ok {
		return Feature{}, shared.NewNotFound("feature")
	}
	return f, nil
}

func (r *memoryRepo) GetByCode(ctx context.Context, code string) (Feature, error) {
	for _, f := range r.features {
		if f.Code == code {
			return f, nil
		}
	}
	return Feature{}, shared.NewNotFound("feature")
}

func (r *memoryRepo) List(ctx context.Context) ([]Feature, error) {
	out := make([]Feature, 0, len(r.features))
	for _, f := range r.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryRepo) ChildIDs(ctx context.Context, id int64) ([]int64, error) {
	var out []int64
	for _, f := range r.features {
		if f.ParentID != nil && *f.ParentID == id {
			out = append(out, f.ID)
		}
	}
	return out, nil
}

func (r *memoryRepo) ParentID(ctx context.Context, id int64) (*int64, error) {
	f, ok := r.features[id]
	if !ok {
		return nil, shared.NewNotFound("feature")
	}
	return f.ParentID, nil
}

func (r *memoryRepo) RecordAudit(ctx context.Context, e audit.Event) error {
	r.audits = append(r.audits, e)
	return nil
}

type memoryPerms map[int64]permissions.Permission

func (m memoryPerms) GetByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error) {
	var out []permissions.Permission
	seen := map[int64]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := m[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func TestDeleteRejectsFeatureWithChildren(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, memoryPerms{}, nil, nil)
	ctx := context.Background()

	parent, err := svc.Create(ctx, 1, Input{Code: "pharmacy", Name: "Pharmacy", Active: true})
	require.NoError(t, err)
	child, err := svc.Create(ctx, 1, Input{Code: "pharmacy.dispense", Name: "Dispense", Active: true, ParentID: &parent.ID})
	require.NoError(t, err)

	err = svc.Delete(ctx, 1, parent.ID)
	var invalid *shared.InvalidOperationError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, svc.Delete(ctx, 1, child.ID))
	require.NoError(t, svc.Delete(ctx, 1, parent.ID))
}

func TestUpdateKeepsCodeImmutable(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, memoryPerms{}, nil, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, 1, Input{Code: "exams", Name: "Exams", Active: true})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, 1, created.ID, Input{Code: "renamed", Name: "Exams v2", Active: true})
	require.NoError(t, err)
	require.Equal(t, "exams", updated.Code)
	require.Equal(t, "Exams v2", updated.Name)
}

func TestUpdateRejectsReparentCycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, memoryPerms{}, nil, nil)
	ctx := context.Background()

	root, err := svc.Create(ctx, 1, Input{Code: "a", Name: "A", Active: true})
	require.NoError(t, err)
	mid, err := svc.Create(ctx, 1, Input{Code: "b", Name: "B", Active: true, ParentID: &root.ID})
	require.NoError(t, err)
	leaf, err := svc.Create(ctx, 1, Input{Code: "c", Name: "C", Active: true, ParentID: &mid.ID})
	require.NoError(t, err)

	_, err = svc.Update(ctx, 1, root.ID, Input{Code: "a", Name: "A", Active: true, ParentID: &leaf.ID})
	var cyc *shared.CircularHierarchyError
	require.ErrorAs(t, err, &cyc)

	_, err = svc.Update(ctx, 1, root.ID, Input{Code: "a", Name: "A", Active: true, ParentID: &root.ID})
	var invalid *shared.InvalidOperationError
	require.ErrorAs(t, err, &invalid)
}

func TestAllPermissionsUnionsAncestors(t *testing.T) {
	perms := memoryPerms{
		1: {ID: 1, Name: "pharmacy:read"},
		2: {ID: 2, Name: "pharmacy:dispense"},
		3: {ID: 3, Name: "pharmacy:audit"},
	}
	repo := newMemoryRepo()
	svc := NewService(repo, perms, nil, nil)
	ctx := context.Background()

	root, err := svc.Create(ctx, 1, Input{Code: "pharmacy", Name: "Pharmacy", Active: true, PermissionIDs: []int64{1}})
	require.NoError(t, err)
	mid, err := svc.Create(ctx, 1, Input{Code: "pharmacy.dispense", Name: "Dispense", Active: true, ParentID: &root.ID, PermissionIDs: []int64{2}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, Input{Code: "pharmacy.dispense.audit", Name: "Audit", Active: true, ParentID: &mid.ID, PermissionIDs: []int64{3, 1}})
	require.NoError(t, err)

	all, err := svc.AllPermissions(ctx, "pharmacy.dispense.audit")
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, p := range all {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"pharmacy:audit", "pharmacy:dispense", "pharmacy:read"}, names)
}

func TestTreeNestsChildren(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, memoryPerms{}, nil, nil)
	ctx := context.Background()

	root, err := svc.Create(ctx, 1, Input{Code: "exams", Name: "Exams", Active: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, Input{Code: "exams.grading", Name: "Grading", Active: true, ParentID: &root.ID})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, Input{Code: "reports", Name: "Reports", Active: true})
	require.NoError(t, err)

	tree, err := svc.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	byCode := map[string]Node{}
	for _, n := range tree {
		byCode[n.Code] = n
	}
	require.Len(t, byCode["exams"].Children, 1)
	require.Equal(t, "exams.grading", byCode["exams"].Children[0].Code)
	require.Empty(t, byCode["reports"].Children)
}

func TestCreateRequiresExistingPermissions(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, memoryPerms{}, nil, nil)

	_, err := svc.Create(context.Background(), 1, Input{Code: "x", Name: "X", PermissionIDs: []int64{99}})
	require.True(t, shared.IsNotFound(err))
}
