package policy

import (
	"context"

	"github.com/sentra-iam/sentra/internal/shared"
)

// CheckHierarchyCycle rejects the edge parent->child when parent is already
// reachable from child by following existing child edges. DFS runs with a
// fresh visited set per call.
func (v *Validator) CheckHierarchyCycle(ctx context.Context, parentID, childID int64) error {
	if parentID == childID {
		return shared.NewCircularHierarchy("role", parentID, childID)
	}
	reachable, err := v.reaches(ctx, childID, parentID, map[int64]struct{}{childID: {}})
	if err != nil {
		return err
	}
	if reachable {
		return shared.NewCircularHierarchy("role", parentID, childID)
	}
	return nil
}

func (v *Validator) reaches(ctx context.Context, from, target int64, visited map[int64]struct{}) (bool, error) {
	children, err := v.roles.ChildIDs(ctx, from)
	if err != nil {
		return false, err
	}
	for _, id := range children {
		if id == target {
			return true, nil
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		found, err := v.reaches(ctx, id, target, visited)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// checkBranch walks the descendants of roleID with a copy of the visited set
// per branch: a role repeated along a single path is a cycle, while a role
// reached through two different parents (a diamond) is not.
func (v *Validator) checkBranch(ctx context.Context, roleID int64, path map[int64]struct{}) error {
	if _, ok := path[roleID]; ok {
		return shared.NewCircularHierarchy("role", roleID, roleID)
	}
	path[roleID] = struct{}{}
	children, err := v.roles.ChildIDs(ctx, roleID)
	if err != nil {
		return err
	}
	for _, childID := range children {
		branch := make(map[int64]struct{}, len(path)+1)
		for id := range path {
			branch[id] = struct{}{}
		}
		if err := v.checkBranch(ctx, childID, branch); err != nil {
			return err
		}
	}
	return nil
}

// FeatureParents walks a feature's parent chain.
type FeatureParents interface {
	ParentID(ctx context.Context, featureID int64) (*int64, error)
}

// CheckFeatureCycle rejects assigning newParentID as the parent of featureID
// when featureID already sits on the chain above newParentID.
func CheckFeatureCycle(ctx context.Context, parents FeatureParents, featureID, newParentID int64) error {
	if featureID == newParentID {
		return shared.NewInvalidOperation("feature cannot be its own parent")
	}
	visited := map[int64]struct{}{newParentID: {}}
	current := newParentID
	for {
		parent, err := parents.ParentID(ctx, current)
		if err != nil {
			return err
		}
		if parent == nil {
			return nil
		}
		if *parent == featureID {
			return shared.NewCircularHierarchy("feature", featureID, newParentID)
		}
		if _, ok := visited[*parent]; ok {
			// Pre-existing cycle upstream; refuse to extend it.
			return shared.NewCircularHierarchy("feature", featureID, newParentID)
		}
		visited[*parent] = struct{}{}
		current = *parent
	}
}
