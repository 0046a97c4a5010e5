package rbac

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/shared"
)

// FanoutEnqueuer defers large invalidation fan-outs to the background
// worker. Optional; nil means every fan-out runs inline.
type FanoutEnqueuer interface {
	EnqueueGroupInvalidate(ctx context.Context, groupID uuid.UUID) error
}

// Service orchestrates RBAC operations: it fronts the stores and the
// engine, and owns the invalidation fan-out and audit trail for every
// structural mutation. Reads go straight to the engine.
type Service struct {
	roles       *HierarchyStore
	catalog     *Catalog
	assignments *AssignmentStore
	engine      *Engine
	audit       *shared.AuditLogger
	fanout      FanoutEnqueuer
	fanoutLimit int
	logger      *slog.Logger
}

// ServiceConfig collects optional service knobs.
type ServiceConfig struct {
	// GroupFanoutLimit is the member count above which a group
	// invalidation is enqueued instead of fanned out inline. Zero keeps
	// everything inline.
	GroupFanoutLimit int
}

// NewService constructs the RBAC service.
func NewService(roles *HierarchyStore, catalog *Catalog, assignments *AssignmentStore, engine *Engine, audit *shared.AuditLogger, fanout FanoutEnqueuer, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		roles:       roles,
		catalog:     catalog,
		assignments: assignments,
		engine:      engine,
		audit:       audit,
		fanout:      fanout,
		fanoutLimit: cfg.GroupFanoutLimit,
		logger:      logger,
	}
}

// Engine exposes the resolution engine for middleware wiring.
func (s *Service) Engine() *Engine { return s.engine }

// Decide delegates to the engine.
func (s *Service) Decide(ctx context.Context, personID uuid.UUID, action Action, objectType ObjectType, objectID *uuid.UUID) (Decision, error) {
	return s.engine.Decide(ctx, personID, action, objectType, objectID)
}

// ListEffectivePermissions delegates to the engine.
func (s *Service) ListEffectivePermissions(ctx context.Context, roleID uuid.UUID, includeInherited bool) ([]EffectivePermission, error) {
	return s.engine.ListEffectivePermissions(ctx, roleID, includeInherited)
}

// Invalidate is the explicit cache-bust hook for administrative bulk
// operations.
func (s *Service) Invalidate(ctx context.Context, subject Subject) error {
	return s.invalidateSubject(ctx, subject)
}

// Roles

// GetRole fetches a role.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.roles.GetRole(ctx, id)
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.roles.ListRoles(ctx)
}

// Ancestors returns a role's ancestor chain, nearest first.
func (s *Service) Ancestors(ctx context.Context, id uuid.UUID) ([]Role, error) {
	return s.roles.Ancestors(ctx, id)
}

// CreateRole inserts a role.
func (s *Service) CreateRole(ctx context.Context, actor *uuid.UUID, role Role) (Role, error) {
	created, err := s.roles.CreateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "rbac.role.create", "role", created.ID.String(), map[string]any{"name": created.Name})
	return created, nil
}

// UpdateRole renames or re-describes a role.
func (s *Service) UpdateRole(ctx context.Context, actor *uuid.UUID, id uuid.UUID, name, description string) (Role, error) {
	updated, err := s.roles.UpdateRole(ctx, id, name, description)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "rbac.role.update", "role", id.String(), map[string]any{"name": updated.Name})
	return updated, nil
}

// DeleteRole removes a role and invalidates every subject it reached.
func (s *Service) DeleteRole(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	// Fan out before the delete removes the assignment rows.
	if err := s.engine.InvalidateRole(ctx, id); err != nil {
		return err
	}
	if err := s.roles.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "rbac.role.delete", "role", id.String(), nil)
	return nil
}

// SetParent reparents a role and invalidates the affected subtree.
func (s *Service) SetParent(ctx context.Context, actor *uuid.UUID, id uuid.UUID, parentID *uuid.UUID) error {
	if err := s.roles.SetParent(ctx, id, parentID); err != nil {
		return err
	}
	if err := s.engine.InvalidateRole(ctx, id); err != nil {
		return err
	}
	meta := map[string]any{}
	if parentID != nil {
		meta["parent_role_id"] = parentID.String()
	}
	s.record(ctx, actor, "rbac.role.set_parent", "role", id.String(), meta)
	return nil
}

// SetRolePermissions replaces a role's direct grants and invalidates the
// role and its descendants, since descendants inherit from it.
func (s *Service) SetRolePermissions(ctx context.Context, actor *uuid.UUID, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if err := s.roles.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	if err := s.engine.InvalidateRole(ctx, roleID); err != nil {
		return err
	}
	s.record(ctx, actor, "rbac.role.set_permissions", "role", roleID.String(), map[string]any{"count": len(permissionIDs)})
	return nil
}

// DirectPermissions returns a role's own grants.
func (s *Service) DirectPermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	return s.roles.DirectPermissions(ctx, roleID)
}

// Catalog

// ListPermissions returns the catalog, optionally filtered by type.
func (s *Service) ListPermissions(ctx context.Context, objectType *ObjectType) ([]Permission, error) {
	return s.catalog.List(ctx, objectType)
}

// FindPermission resolves a permission identity.
func (s *Service) FindPermission(ctx context.Context, objectType ObjectType, action Action) (Permission, error) {
	return s.catalog.Find(ctx, objectType, action)
}

// SeedCatalog ensures the full permission matrix exists.
func (s *Service) SeedCatalog(ctx context.Context) error {
	return s.catalog.Seed(ctx)
}

// Assignments

// GetAssignment fetches an assignment.
func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error) {
	return s.assignments.Get(ctx, id)
}

// ListAssignmentsForSubject supports the resolver and admin listing.
func (s *Service) ListAssignmentsForSubject(ctx context.Context, subject Subject) ([]Assignment, error) {
	return s.assignments.ListForSubject(ctx, subject)
}

// ListAssignmentsForRole supports invalidation fan-out and admin listing.
func (s *Service) ListAssignmentsForRole(ctx context.Context, roleID uuid.UUID) ([]Assignment, error) {
	return s.assignments.ListForRole(ctx, roleID)
}

// CreateAssignment binds a role to a subject and invalidates the
// subject immediately, so new grants take effect on the next check.
func (s *Service) CreateAssignment(ctx context.Context, actor *uuid.UUID, a Assignment) (Assignment, error) {
	a.GrantedBy = actor
	created, err := s.assignments.Create(ctx, a)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.invalidateSubject(ctx, created.Subject); err != nil {
		return Assignment{}, err
	}
	s.record(ctx, actor, "rbac.assignment.create", "role_assignment", created.ID.String(), map[string]any{
		"role_id": created.RoleID.String(),
		"subject": created.Subject.Key(),
		"scope":   string(created.Scope.Kind),
	})
	return created, nil
}

// UpdateAssignment patches scope or note and invalidates the subject.
func (s *Service) UpdateAssignment(ctx context.Context, actor *uuid.UUID, id uuid.UUID, patch AssignmentPatch) (Assignment, error) {
	updated, err := s.assignments.Update(ctx, id, patch)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.invalidateSubject(ctx, updated.Subject); err != nil {
		return Assignment{}, err
	}
	s.record(ctx, actor, "rbac.assignment.update", "role_assignment", id.String(), map[string]any{
		"scope": string(updated.Scope.Kind),
	})
	return updated, nil
}

// DeleteAssignment revokes a binding and invalidates the subject, so no
// stale grant survives the revocation.
func (s *Service) DeleteAssignment(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	a, err := s.assignments.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.assignments.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.invalidateSubject(ctx, a.Subject); err != nil {
		return err
	}
	s.record(ctx, actor, "rbac.assignment.delete", "role_assignment", id.String(), map[string]any{
		"subject": a.Subject.Key(),
	})
	return nil
}

// invalidateSubject bumps the subject, deferring big group fan-outs to
// the worker when an enqueuer is configured.
func (s *Service) invalidateSubject(ctx context.Context, subject Subject) error {
	if subject.Kind == SubjectGroup && s.fanout != nil && s.fanoutLimit > 0 {
		members, err := s.engine.membership.MembersOf(ctx, subject.ID)
		if err != nil {
			return &CollaboratorError{Resolver: "group membership", Err: err}
		}
		if len(members) > s.fanoutLimit {
			// Bump the group entry now; member entries follow asynchronously.
			s.engine.cache.Invalidate(subject)
			return s.fanout.EnqueueGroupInvalidate(ctx, subject.ID)
		}
	}
	return s.engine.Invalidate(ctx, subject)
}

func (s *Service) record(ctx context.Context, actor *uuid.UUID, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{Action: action, Entity: entity, EntityID: entityID, Meta: meta}
	if actor != nil {
		log.ActorID = *actor
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("rbac audit record", slog.Any("error", err))
	}
}
