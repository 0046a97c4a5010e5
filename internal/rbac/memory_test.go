package rbac

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// memStore is an in-memory implementation of every port the engine
// consumes, with failure injection for collaborator outage tests.
type memStore struct {
	mu sync.Mutex

	roles       map[uuid.UUID]Role
	rolePerms   map[uuid.UUID][]Permission
	perms       map[PermKey]Permission
	assignments map[uuid.UUID]Assignment

	people  map[uuid.UUID]bool
	members map[uuid.UUID][]uuid.UUID // group -> people
	objLocs map[ObjectType]map[uuid.UUID]uuid.UUID
	granted map[string]bool // subject|role|type|object

	membershipErr error
	locationErr   error
	overrideErr   error
	directoryErr  error

	// listGate, when set, runs at the top of ListForSubject outside the
	// lock so tests can hold a rebuild mid-flight.
	listGate func()

	buildCalls atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{
		roles:       make(map[uuid.UUID]Role),
		rolePerms:   make(map[uuid.UUID][]Permission),
		perms:       make(map[PermKey]Permission),
		assignments: make(map[uuid.UUID]Assignment),
		people:      make(map[uuid.UUID]bool),
		members:     make(map[uuid.UUID][]uuid.UUID),
		objLocs:     make(map[ObjectType]map[uuid.UUID]uuid.UUID),
		granted:     make(map[string]bool),
	}
}

// RoleRepository

func (m *memStore) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *memStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return Role{}, ErrNotFound
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *memStore) DeleteRole(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	for rid, role := range m.roles {
		if role.ParentID != nil && *role.ParentID == id {
			role.ParentID = nil
			m.roles[rid] = role
		}
	}
	return nil
}

func (m *memStore) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return ErrNotFound
	}
	role.ParentID = parentID
	m.roles[id] = role
	return nil
}

func (m *memStore) RolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Permission(nil), m.rolePerms[roleID]...), nil
}

func (m *memStore) ReplaceRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[uuid.UUID]Permission, len(m.perms))
	for _, p := range m.perms {
		byID[p.ID] = p
	}
	var next []Permission
	for _, id := range permissionIDs {
		if p, ok := byID[id]; ok {
			next = append(next, p)
		}
	}
	m.rolePerms[roleID] = next
	return nil
}

// PermissionRepository

func (m *memStore) ListPermissions(ctx context.Context, objectType *ObjectType) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.perms {
		if objectType == nil || p.ObjectType == *objectType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) FindPermission(ctx context.Context, objectType ObjectType, action Action) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[PermKey{ObjectType: objectType, Action: action}]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) EnsurePermission(ctx context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.perms[perm.Key()]; ok {
		existing.Name = perm.Name
		m.perms[perm.Key()] = existing
		return existing, nil
	}
	m.perms[perm.Key()] = perm
	return perm, nil
}

// AssignmentRepository

func (m *memStore) GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (m *memStore) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.assignments[a.ID] = a
	return a, nil
}

func (m *memStore) UpdateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; !ok {
		return Assignment{}, ErrNotFound
	}
	m.assignments[a.ID] = a
	return a, nil
}

func (m *memStore) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[id]; !ok {
		return ErrNotFound
	}
	delete(m.assignments, id)
	return nil
}

func (m *memStore) ListForSubject(ctx context.Context, subject Subject) ([]Assignment, error) {
	m.buildCalls.Add(1)
	if m.listGate != nil {
		m.listGate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.Subject == subject {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = struct{}{}
	}
	var out []Assignment
	for _, a := range m.assignments {
		if _, ok := want[a.RoleID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// SubjectDirectory

func (m *memStore) PersonExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.directoryErr != nil {
		return false, m.directoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.people[id], nil
}

func (m *memStore) GroupExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.directoryErr != nil {
		return false, m.directoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[id]
	return ok, nil
}

// MembershipResolver

func (m *memStore) GroupsOf(ctx context.Context, personID uuid.UUID) ([]uuid.UUID, error) {
	if m.membershipErr != nil {
		return nil, m.membershipErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for group, members := range m.members {
		for _, p := range members {
			if p == personID {
				out = append(out, group)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	if m.membershipErr != nil {
		return nil, m.membershipErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.members[groupID]...), nil
}

// LocationResolver

func (m *memStore) LocationOf(ctx context.Context, objectType ObjectType, objectID uuid.UUID) (*uuid.UUID, error) {
	if m.locationErr != nil {
		return nil, m.locationErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	locs, ok := m.objLocs[objectType]
	if !ok {
		return nil, nil
	}
	loc, ok := locs[objectID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

// OverrideResolver

func overrideKey(subject Subject, roleID uuid.UUID, objectType ObjectType, objectID uuid.UUID) string {
	return subject.Key() + "|" + roleID.String() + "|" + string(objectType) + "|" + objectID.String()
}

func (m *memStore) IsGranted(ctx context.Context, subject Subject, roleID uuid.UUID, objectType ObjectType, objectID uuid.UUID) (bool, error) {
	if m.overrideErr != nil {
		return false, m.overrideErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted[overrideKey(subject, roleID, objectType, objectID)], nil
}

// Test helpers

func (m *memStore) addPerson() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.people[id] = true
	return id
}

func (m *memStore) addGroup(members ...uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.members[id] = append([]uuid.UUID(nil), members...)
	return id
}

func (m *memStore) addMember(groupID, personID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[groupID] = append(m.members[groupID], personID)
}

func (m *memStore) placeObject(objectType ObjectType, objectID, locationID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objLocs[objectType] == nil {
		m.objLocs[objectType] = make(map[uuid.UUID]uuid.UUID)
	}
	m.objLocs[objectType][objectID] = locationID
}

func (m *memStore) grantOverride(subject Subject, roleID uuid.UUID, objectType ObjectType, objectID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted[overrideKey(subject, roleID, objectType, objectID)] = true
}

// env bundles the assembled engine and stores for tests.
type env struct {
	store       *memStore
	roles       *HierarchyStore
	catalog     *Catalog
	assignments *AssignmentStore
	engine      *Engine
}

func newEnv() *env {
	store := newMemStore()
	roles := NewHierarchyStore(store)
	catalog := NewCatalog(store)
	assignments := NewAssignmentStore(store, store, store)
	engine := NewEngine(roles, catalog, assignments, store, store, store, nil, nil)
	return &env{
		store:       store,
		roles:       roles,
		catalog:     catalog,
		assignments: assignments,
		engine:      engine,
	}
}

func (e *env) mustRole(name string, parentID *uuid.UUID, perms ...Permission) Role {
	role, err := e.roles.CreateRole(context.Background(), Role{Name: name, ParentID: parentID})
	if err != nil {
		panic(err)
	}
	ids := make([]uuid.UUID, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		if err := e.store.ReplaceRolePermissions(context.Background(), role.ID, ids); err != nil {
			panic(err)
		}
	}
	return role
}

func (e *env) mustPermission(objectType ObjectType, action Action) Permission {
	perm, err := e.catalog.Ensure(context.Background(), objectType, action, "")
	if err != nil {
		panic(err)
	}
	return perm
}

func (e *env) mustAssign(roleID uuid.UUID, subject Subject, scope Scope) Assignment {
	a, err := e.assignments.Create(context.Background(), Assignment{RoleID: roleID, Subject: subject, Scope: scope})
	if err != nil {
		panic(err)
	}
	return a
}
