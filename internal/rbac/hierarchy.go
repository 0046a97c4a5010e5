package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxHierarchyDepth caps ancestor walks. The store rejects cycles at
// write time, so the cap only guards against corrupted stored data.
const maxHierarchyDepth = 10

// RoleRepository defines persistence for roles and their direct grants.
type RoleRepository interface {
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error
	SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	RolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
}

// HierarchyStore manages the role forest: parent links, cycle rejection
// and permission inheritance.
type HierarchyStore struct {
	repo RoleRepository
}

// NewHierarchyStore constructs a HierarchyStore.
func NewHierarchyStore(repo RoleRepository) *HierarchyStore {
	return &HierarchyStore{repo: repo}
}

// GetRole fetches a role by ID.
func (s *HierarchyStore) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// ListRoles returns every role.
func (s *HierarchyStore) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole inserts a new role, validating its parent link.
func (s *HierarchyStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	if role.ParentID != nil {
		if _, err := s.repo.GetRole(ctx, *role.ParentID); err != nil {
			return Role{}, fmt.Errorf("rbac: parent role: %w", err)
		}
	}
	return s.repo.CreateRole(ctx, role)
}

// UpdateRole updates name and description. Parent changes go through
// SetParent so cycle rejection stays in one place.
func (s *HierarchyStore) UpdateRole(ctx context.Context, id uuid.UUID, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	role.Name = name
	role.Description = strings.TrimSpace(description)
	return s.repo.UpdateRole(ctx, role)
}

// DeleteRole removes a role. System roles are immutable and reject
// deletion.
func (s *HierarchyStore) DeleteRole(ctx context.Context, id uuid.UUID) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("rbac: role %q is a system role and cannot be deleted", role.Name)
	}
	return s.repo.DeleteRole(ctx, id)
}

// SetParent reparents a role. It fails with CycleError when parentID is
// the role itself or one of its descendants.
func (s *HierarchyStore) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	if _, err := s.repo.GetRole(ctx, id); err != nil {
		return err
	}
	if parentID != nil {
		if *parentID == id {
			return &CycleError{RoleID: id, ParentID: *parentID}
		}
		// Walk up from the proposed parent; finding the role there means
		// the parent is a descendant of the role.
		ancestors, err := s.Ancestors(ctx, *parentID)
		if err != nil {
			return err
		}
		for _, anc := range ancestors {
			if anc.ID == id {
				return &CycleError{RoleID: id, ParentID: *parentID}
			}
		}
	}
	return s.repo.SetParent(ctx, id, parentID)
}

// Ancestors returns the ancestor chain of a role, nearest first. The
// role itself is not included.
func (s *HierarchyStore) Ancestors(ctx context.Context, id uuid.UUID) ([]Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	var chain []Role
	for depth := 0; role.ParentID != nil; depth++ {
		if depth >= maxHierarchyDepth {
			return nil, fmt.Errorf("rbac: role %s ancestor chain exceeds depth %d", id, maxHierarchyDepth)
		}
		parent, err := s.repo.GetRole(ctx, *role.ParentID)
		if err != nil {
			return nil, fmt.Errorf("rbac: ancestor of %s: %w", role.ID, err)
		}
		chain = append(chain, parent)
		role = parent
	}
	return chain, nil
}

// Descendants returns every role below the given role, in breadth-first
// order. Used for invalidation fan-out when a role changes.
func (s *HierarchyStore) Descendants(ctx context.Context, id uuid.UUID) ([]Role, error) {
	all, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	children := make(map[uuid.UUID][]Role, len(all))
	for _, role := range all {
		if role.ParentID != nil {
			children[*role.ParentID] = append(children[*role.ParentID], role)
		}
	}
	var out []Role
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range children[next] {
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out, nil
}

// DirectPermissions returns the permissions granted to the role itself.
func (s *HierarchyStore) DirectPermissions(ctx context.Context, id uuid.UUID) ([]Permission, error) {
	if _, err := s.repo.GetRole(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.RolePermissions(ctx, id)
}

// EffectivePermissions returns the role's direct permissions plus, when
// includeInherited is set, everything granted by its ancestors. A
// permission held both directly and by an ancestor keeps its nearest
// provenance.
func (s *HierarchyStore) EffectivePermissions(ctx context.Context, id uuid.UUID, includeInherited bool) ([]EffectivePermission, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	direct, err := s.repo.RolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := make(map[PermKey]struct{}, len(direct))
	out := make([]EffectivePermission, 0, len(direct))
	for _, p := range direct {
		seen[p.Key()] = struct{}{}
		out = append(out, EffectivePermission{Permission: p, FromRoleID: role.ID, FromRole: role.Name})
	}
	if !includeInherited {
		return out, nil
	}
	ancestors, err := s.Ancestors(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, anc := range ancestors {
		perms, err := s.repo.RolePermissions(ctx, anc.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			if _, ok := seen[p.Key()]; ok {
				continue
			}
			seen[p.Key()] = struct{}{}
			out = append(out, EffectivePermission{
				Permission: p,
				Inherited:  true,
				FromRoleID: anc.ID,
				FromRole:   anc.Name,
			})
		}
	}
	return out, nil
}

// SetRolePermissions replaces the direct permission set of a role.
// System roles may gain permissions but may not have their set cleared.
func (s *HierarchyStore) SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem && len(permissionIDs) == 0 {
		return fmt.Errorf("rbac: role %q is a system role and its permissions cannot be cleared", role.Name)
	}
	return s.repo.ReplaceRolePermissions(ctx, roleID, permissionIDs)
}
