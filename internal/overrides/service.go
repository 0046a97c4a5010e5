package overrides

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/internal/shared"
)

// RepositoryPort defines persistence operations the service depends on.
type RepositoryPort interface {
	Create(ctx context.Context, o Override) (Override, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListForSubject(ctx context.Context, subject rbac.Subject) ([]Override, error)
	IsGranted(ctx context.Context, subject rbac.Subject, roleID uuid.UUID, objectType rbac.ObjectType, objectID uuid.UUID) (bool, error)
}

// Service manages object overrides. The resolution engine consults the
// repository live on every specific_objects check, so grants and
// revocations take effect without any cache invalidation.
type Service struct {
	repo   RepositoryPort
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Grant whitelists one object for a subject's specific_objects
// assignment to the role.
func (s *Service) Grant(ctx context.Context, actor *uuid.UUID, o Override) (Override, error) {
	if o.Subject.ID == uuid.Nil || (o.Subject.Kind != rbac.SubjectPerson && o.Subject.Kind != rbac.SubjectGroup) {
		return Override{}, &rbac.InvalidAssignmentError{Reason: "subject must be a person or a group"}
	}
	if !o.ObjectType.Valid() {
		return Override{}, &rbac.InvalidAssignmentError{Reason: "unknown object type " + string(o.ObjectType)}
	}
	o.CreatedBy = actor
	created, err := s.repo.Create(ctx, o)
	if err != nil {
		return Override{}, err
	}
	s.record(ctx, actor, "overrides.grant", created)
	return created, nil
}

// Revoke removes an override.
func (s *Service) Revoke(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.audit != nil {
		log := shared.AuditLog{Action: "overrides.revoke", Entity: "object_override", EntityID: id.String()}
		if actor != nil {
			log.ActorID = *actor
		}
		if err := s.audit.Record(ctx, log); err != nil {
			s.logger.Warn("overrides audit record", slog.Any("error", err))
		}
	}
	return nil
}

// ListForSubject returns a subject's overrides.
func (s *Service) ListForSubject(ctx context.Context, subject rbac.Subject) ([]Override, error) {
	return s.repo.ListForSubject(ctx, subject)
}

// IsGranted implements the engine's override lookup.
func (s *Service) IsGranted(ctx context.Context, subject rbac.Subject, roleID uuid.UUID, objectType rbac.ObjectType, objectID uuid.UUID) (bool, error) {
	return s.repo.IsGranted(ctx, subject, roleID, objectType, objectID)
}

func (s *Service) record(ctx context.Context, actor *uuid.UUID, action string, o Override) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		Action:   action,
		Entity:   "object_override",
		EntityID: o.ID.String(),
		Meta: map[string]any{
			"subject":     o.Subject.Key(),
			"role_id":     o.RoleID.String(),
			"object_type": string(o.ObjectType),
			"object_id":   o.ObjectID.String(),
		},
	}
	if actor != nil {
		log.ActorID = *actor
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("overrides audit record", slog.Any("error", err))
	}
}
