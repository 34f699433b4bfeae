package roles

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/observability"
	"github.com/sentra-iam/sentra/internal/policy"
	"github.com/sentra-iam/sentra/internal/shared"
)

// AccessInvalidator evicts resolved permission sets after hierarchy edits.
type AccessInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

const defaultClosureCacheSize = 1024

// Service owns the role hierarchy: creation, child edges, and the cached
// transitive closure of descendants.
type Service struct {
	repo      Repository
	validator *policy.Validator
	access    AccessInvalidator
	logger    *slog.Logger
	metrics   *observability.Metrics

	// mu serialises hierarchy mutations so the cycle check and the edge
	// write observe the same view. Without it two writers could each pass
	// validation against the pre-edit graph and together close a cycle.
	mu sync.Mutex

	// cacheMu guards the closure LRU together with closureVersion. Every
	// mutation bumps the version before evicting, and a reader only stores
	// a computed closure if no mutation committed since it started; a BFS
	// in flight across a commit can therefore never re-populate the cache
	// with a pre-edit closure.
	cacheMu        sync.Mutex
	closureVersion uint64
	closures       *lru.Cache[int64, []Role]
}

// NewService builds a Service instance.
func NewService(repo Repository, validator *policy.Validator, access AccessInvalidator, logger *slog.Logger, metrics *observability.Metrics, closureCacheSize int) *Service {
	if closureCacheSize <= 0 {
		closureCacheSize = defaultClosureCacheSize
	}
	closures, _ := lru.New[int64, []Role](closureCacheSize)
	return &Service{repo: repo, validator: validator, access: access, logger: logger, metrics: metrics, closures: closures}
}

// Create validates and persists a new role with its permissions and child
// edges, auditing in the same transaction.
func (s *Service) Create(ctx context.Context, actorID int64, in CreateInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Role{}, shared.NewInvalidOperation("role name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validator.ValidateRoleCreation(ctx, policy.RoleCreation{
		Name:          in.Name,
		Precedence:    in.Precedence,
		PermissionIDs: in.PermissionIDs,
		ChildRoleIDs:  in.ChildRoleIDs,
	}); err != nil {
		return Role{}, err
	}
	for _, childID := range in.ChildRoleIDs {
		child, err := s.repo.Get(ctx, childID)
		if err != nil {
			return Role{}, err
		}
		if child.Precedence <= in.Precedence {
			return Role{}, shared.NewInvalidOperation("child role %q (precedence %d) must rank strictly below %q (precedence %d)",
				child.Name, child.Precedence, in.Name, in.Precedence)
		}
	}
	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		created, err = tx.Create(ctx, in)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "role.create",
			ActorID:   actorID,
			TargetIDs: []int64{created.ID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return Role{}, err
	}
	s.metrics.HierarchyMutation("create")
	s.invalidateAccess(ctx)
	return created, nil
}

// AddChildRole attaches childID under parentID. Fails when either role is
// missing, when the child does not rank strictly below the parent, or when
// the edge would make parentID reachable from childID.
func (s *Service) AddChildRole(ctx context.Context, actorID, parentID, childID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.repo.Get(ctx, parentID)
	if err != nil {
		return err
	}
	child, err := s.repo.Get(ctx, childID)
	if err != nil {
		return err
	}
	if child.Precedence <= parent.Precedence {
		return shared.NewInvalidOperation("child role %q (precedence %d) must rank strictly below parent %q (precedence %d)",
			child.Name, child.Precedence, parent.Name, parent.Precedence)
	}
	if err := s.validator.CheckHierarchyCycle(ctx, parentID, childID); err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.AddChild(ctx, parentID, childID); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "role.child.add",
			ActorID:   actorID,
			TargetIDs: []int64{parentID, childID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.HierarchyMutation("child_add")
	s.evictClosures(ctx, parentID)
	s.invalidateAccess(ctx)
	return nil
}

// RemoveChildRole detaches childID from parentID. Removing an absent edge is
// a no-op, not an error.
func (s *Service) RemoveChildRole(ctx context.Context, actorID, parentID, childID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		removed, err = tx.RemoveChild(ctx, parentID, childID)
		if err != nil || !removed {
			return err
		}
		return tx.RecordAudit(ctx, audit.Event{
			Action:    "role.child.remove",
			ActorID:   actorID,
			TargetIDs: []int64{parentID, childID},
			Outcome:   audit.OutcomeSuccess,
		})
	})
	if err != nil {
		return err
	}
	if removed {
		s.metrics.HierarchyMutation("child_remove")
		s.evictClosures(ctx, parentID)
		s.invalidateAccess(ctx)
	}
	return nil
}

// AllChildRoles returns the transitive closure of descendants of roleID,
// de-duplicated so diamond reconvergence counts once. Results are cached per
// role until a hierarchy edit touches the subtree.
func (s *Service) AllChildRoles(ctx context.Context, roleID int64) ([]Role, error) {
	s.cacheMu.Lock()
	if cached, ok := s.closures.Get(roleID); ok {
		s.cacheMu.Unlock()
		return cached, nil
	}
	startVersion := s.closureVersion
	s.cacheMu.Unlock()

	root, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	seen := map[int64]struct{}{roleID: {}}
	var closure []Role
	queue := append([]int64(nil), root.ChildIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		role, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		closure = append(closure, role)
		queue = append(queue, role.ChildIDs...)
	}
	sort.Slice(closure, func(i, j int) bool {
		if closure[i].Precedence != closure[j].Precedence {
			return closure[i].Precedence < closure[j].Precedence
		}
		return closure[i].Name < closure[j].Name
	})
	s.cacheMu.Lock()
	if s.closureVersion == startVersion {
		s.closures.Add(roleID, closure)
	}
	s.cacheMu.Unlock()
	return closure, nil
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// ListByPrecedence returns all roles ascending by precedence.
func (s *Service) ListByPrecedence(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// evictClosures drops the cached closure of roleID and of every ancestor
// whose closure contains it.
func (s *Service) evictClosures(ctx context.Context, roleID int64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.closureVersion++

	seen := map[int64]struct{}{}
	stack := []int64{roleID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.closures.Remove(id)
		parents, err := s.repo.ParentIDs(ctx, id)
		if err != nil {
			// Cannot walk further up; drop everything rather than serve
			// stale closures.
			if s.logger != nil {
				s.logger.Warn("closure eviction walk failed, purging", slog.Any("error", err))
			}
			s.closures.Purge()
			return
		}
		stack = append(stack, parents...)
	}
}

func (s *Service) invalidateAccess(ctx context.Context) {
	if s.access == nil {
		return
	}
	if err := s.access.InvalidateAll(ctx); err != nil && s.logger != nil {
		s.logger.Warn("invalidate access cache", slog.Any("error", err))
	}
}
