package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// MembershipResolver exposes group membership, owned externally by the
// directory.
type MembershipResolver interface {
	GroupsOf(ctx context.Context, personID uuid.UUID) ([]uuid.UUID, error)
	MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// LocationResolver maps an object instance to its location, when it has
// one.
type LocationResolver interface {
	LocationOf(ctx context.Context, objectType ObjectType, objectID uuid.UUID) (*uuid.UUID, error)
}

// OverrideResolver confirms explicit per-object grants for
// specific_objects scoped assignments.
type OverrideResolver interface {
	IsGranted(ctx context.Context, subject Subject, roleID uuid.UUID, objectType ObjectType, objectID uuid.UUID) (bool, error)
}

// EngineMetrics receives resolution counters. Implementations must be
// safe for concurrent use; a nil value disables instrumentation.
type EngineMetrics interface {
	ObserveDecision(granted bool)
	ObserveCache(hit bool)
}

// Engine composes the stores, the external resolvers and the cache into
// a single decision point with an audit-friendly trace.
type Engine struct {
	roles       *HierarchyStore
	catalog     *Catalog
	assignments *AssignmentStore
	membership  MembershipResolver
	locations   LocationResolver
	overrides   OverrideResolver
	cache       *Cache
	metrics     EngineMetrics
	logger      *slog.Logger
	group       singleflight.Group
}

// NewEngine wires a resolution engine.
func NewEngine(
	roles *HierarchyStore,
	catalog *Catalog,
	assignments *AssignmentStore,
	membership MembershipResolver,
	locations LocationResolver,
	overrides OverrideResolver,
	metrics EngineMetrics,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		roles:       roles,
		catalog:     catalog,
		assignments: assignments,
		membership:  membership,
		locations:   locations,
		overrides:   overrides,
		cache:       NewCache(),
		metrics:     metrics,
		logger:      logger,
	}
}

// Decide answers whether the person may perform action on objectType,
// optionally narrowed to one object instance. Denial is a value; only
// collaborator outages and store failures surface as errors.
func (e *Engine) Decide(ctx context.Context, personID uuid.UUID, action Action, objectType ObjectType, objectID *uuid.UUID) (Decision, error) {
	perm, err := e.catalog.Find(ctx, objectType, action)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{
				Granted: false,
				Reason:  fmt.Sprintf("no permission defined for %s %s", action, objectType),
				Trace:   []string{fmt.Sprintf("permission lookup: %s %s is not cataloged", action, objectType)},
			}, nil
		}
		return Decision{}, err
	}
	key := perm.Key()

	subjects, err := e.effectiveSubjects(ctx, personID)
	if err != nil {
		return Decision{}, err
	}

	trace := []string{fmt.Sprintf("checking %s for person %s (%d subject(s))", key, personID, len(subjects))}
	for _, subject := range subjects {
		set, err := e.ResolvedSet(ctx, subject)
		if err != nil {
			return Decision{}, err
		}
		if len(set.Assignments) == 0 {
			trace = append(trace, fmt.Sprintf("subject %s: no role assignments", subject))
			continue
		}

		granting := make(map[uuid.UUID]struct{})
		for _, grant := range set.Grants[key] {
			granting[grant.AssignmentID] = struct{}{}
			matched, entry, err := e.matchScope(ctx, subject, grant, objectID)
			if err != nil {
				return Decision{}, err
			}
			trace = append(trace, entry)
			if !matched {
				continue
			}
			reason := fmt.Sprintf("granted by role %q", grant.RoleName)
			if grant.Inherited {
				reason = fmt.Sprintf("granted by role %q via ancestor %q", grant.RoleName, grant.FromRole)
			}
			e.observeDecision(true)
			return Decision{Granted: true, Reason: reason, Trace: trace}, nil
		}
		// Cite the assignments whose roles never carried the permission.
		for _, ref := range set.Assignments {
			if _, ok := granting[ref.AssignmentID]; ok {
				continue
			}
			trace = append(trace, fmt.Sprintf(
				"subject %s: assignment to role %q (%s scope): permission %s absent from role and ancestors",
				subject, ref.RoleName, ref.Scope.Kind, key))
		}
	}

	e.observeDecision(false)
	return Decision{Granted: false, Reason: "no matching role assignment", Trace: trace}, nil
}

// matchScope evaluates one grant's scope against the requested object,
// consulting the external resolvers only when the scope requires them.
func (e *Engine) matchScope(ctx context.Context, subject Subject, grant Grant, objectID *uuid.UUID) (bool, string, error) {
	prefix := fmt.Sprintf("subject %s: assignment to role %q (%s scope)", subject, grant.RoleName, grant.Scope.Kind)
	provenance := fmt.Sprintf("permission granted directly by %q", grant.RoleName)
	if grant.Inherited {
		provenance = fmt.Sprintf("permission inherited from ancestor %q", grant.FromRole)
	}

	switch grant.Scope.Kind {
	case ScopeGlobal:
		return true, fmt.Sprintf("%s: matches globally; %s", prefix, provenance), nil
	case ScopeLocation:
		if objectID == nil {
			return false, fmt.Sprintf("%s: requires a concrete object, type-level check never matches", prefix), nil
		}
		loc, err := e.locations.LocationOf(ctx, grant.Permission.ObjectType, *objectID)
		if err != nil {
			return false, "", &CollaboratorError{Resolver: "location", Err: err}
		}
		if loc == nil {
			return false, fmt.Sprintf("%s: object %s has no resolved location", prefix, objectID), nil
		}
		if !grant.Scope.ContainsLocation(*loc) {
			return false, fmt.Sprintf("%s: scope mismatch, object location %s not in assignment locations", prefix, loc), nil
		}
		return true, fmt.Sprintf("%s: object location %s matches; %s", prefix, loc, provenance), nil
	case ScopeSpecificObjects:
		if objectID == nil {
			return false, fmt.Sprintf("%s: requires a concrete object, type-level check never matches", prefix), nil
		}
		ok, err := e.overrides.IsGranted(ctx, subject, grant.RoleID, grant.Permission.ObjectType, *objectID)
		if err != nil {
			return false, "", &CollaboratorError{Resolver: "object override", Err: err}
		}
		if !ok {
			return false, fmt.Sprintf("%s: no object-level override for %s %s", prefix, grant.Permission.ObjectType, objectID), nil
		}
		return true, fmt.Sprintf("%s: object-level override confirmed for %s; %s", prefix, objectID, provenance), nil
	default:
		return false, fmt.Sprintf("%s: unknown scope", prefix), nil
	}
}

// effectiveSubjects expands a person into themself plus every group they
// belong to.
func (e *Engine) effectiveSubjects(ctx context.Context, personID uuid.UUID) ([]Subject, error) {
	groups, err := e.membership.GroupsOf(ctx, personID)
	if err != nil {
		return nil, &CollaboratorError{Resolver: "group membership", Err: err}
	}
	subjects := make([]Subject, 0, len(groups)+1)
	subjects = append(subjects, PersonSubject(personID))
	for _, g := range groups {
		subjects = append(subjects, GroupSubject(g))
	}
	return subjects, nil
}

// ResolvedSet returns the memoized resolved permission set for a
// subject, rebuilding it when the cache epoch moved. Concurrent rebuilds
// of the same subject and epoch are collapsed. The epoch is part of the
// flight key: a caller arriving after an invalidation never joins a
// rebuild that started under the previous epoch, so a revoked grant
// cannot leak into decisions made after the revocation.
func (e *Engine) ResolvedSet(ctx context.Context, subject Subject) (*ResolvedSet, error) {
	if set, ok := e.cache.Get(subject); ok {
		e.observeCache(true)
		return set, nil
	}
	e.observeCache(false)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		version := e.cache.Version(subject)
		key := fmt.Sprintf("%s@%d", subject.Key(), version)
		v, err, _ := e.group.Do(key, func() (any, error) {
			if set, ok := e.cache.Get(subject); ok {
				return set, nil
			}
			set, err := e.buildResolvedSet(ctx, subject)
			if err != nil {
				return nil, err
			}
			set.Version = version
			e.cache.Put(set)
			return set, nil
		})
		if err != nil {
			return nil, err
		}
		set := v.(*ResolvedSet)
		if set.Version == e.cache.Version(subject) {
			return set, nil
		}
		// The epoch moved while the set was in flight; build again.
	}
}

func (e *Engine) buildResolvedSet(ctx context.Context, subject Subject) (*ResolvedSet, error) {
	assignments, err := e.assignments.ListForSubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	set := &ResolvedSet{
		Subject: subject,
		Grants:  make(map[PermKey][]Grant),
	}
	for _, a := range assignments {
		role, err := e.roles.GetRole(ctx, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("rbac: resolve assignment %s: %w", a.ID, err)
		}
		set.Assignments = append(set.Assignments, AssignmentRef{
			AssignmentID: a.ID,
			RoleID:       role.ID,
			RoleName:     role.Name,
			Scope:        a.Scope,
		})
		effective, err := e.roles.EffectivePermissions(ctx, a.RoleID, true)
		if err != nil {
			return nil, fmt.Errorf("rbac: effective permissions of role %s: %w", a.RoleID, err)
		}
		for _, ep := range effective {
			key := ep.Permission.Key()
			set.Grants[key] = append(set.Grants[key], Grant{
				AssignmentID: a.ID,
				RoleID:       role.ID,
				RoleName:     role.Name,
				Scope:        a.Scope,
				Permission:   ep.Permission,
				Inherited:    ep.Inherited,
				FromRoleID:   ep.FromRoleID,
				FromRole:     ep.FromRole,
			})
		}
	}
	return set, nil
}

// ListEffectivePermissions drives permission-matrix and role-tree
// displays.
func (e *Engine) ListEffectivePermissions(ctx context.Context, roleID uuid.UUID, includeInherited bool) ([]EffectivePermission, error) {
	return e.roles.EffectivePermissions(ctx, roleID, includeInherited)
}

// Invalidate bumps the cache epoch for a subject. Group subjects fan out
// to every current member, resolved at invalidation time.
func (e *Engine) Invalidate(ctx context.Context, subject Subject) error {
	e.cache.Invalidate(subject)
	if subject.Kind != SubjectGroup {
		return nil
	}
	members, err := e.membership.MembersOf(ctx, subject.ID)
	if err != nil {
		return &CollaboratorError{Resolver: "group membership", Err: err}
	}
	for _, m := range members {
		e.cache.Invalidate(PersonSubject(m))
	}
	return nil
}

// InvalidateRole fans an invalidation out to every subject holding an
// assignment to the role or any of its descendants.
func (e *Engine) InvalidateRole(ctx context.Context, roleID uuid.UUID) error {
	descendants, err := e.roles.Descendants(ctx, roleID)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(descendants)+1)
	ids = append(ids, roleID)
	for _, d := range descendants {
		ids = append(ids, d.ID)
	}
	assignments, err := e.assignments.ListForRoles(ctx, ids)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		if _, ok := seen[a.Subject.Key()]; ok {
			continue
		}
		seen[a.Subject.Key()] = struct{}{}
		if err := e.Invalidate(ctx, a.Subject); err != nil {
			return err
		}
	}
	return nil
}

// Cache exposes the underlying cache, mainly for tests and metrics.
func (e *Engine) Cache() *Cache {
	return e.cache
}

func (e *Engine) observeDecision(granted bool) {
	if e.metrics != nil {
		e.metrics.ObserveDecision(granted)
	}
}

func (e *Engine) observeCache(hit bool) {
	if e.metrics != nil {
		e.metrics.ObserveCache(hit)
	}
}
