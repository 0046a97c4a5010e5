package directory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/internal/shared"
)

// RepositoryPort defines persistence operations the service depends on.
type RepositoryPort interface {
	GetPerson(ctx context.Context, id uuid.UUID) (Person, error)
	ListPeople(ctx context.Context, limit, offset int) ([]Person, error)
	CreatePerson(ctx context.Context, p Person) (Person, error)
	UpdatePerson(ctx context.Context, p Person) (Person, error)
	DeletePerson(ctx context.Context, id uuid.UUID) error

	GetGroup(ctx context.Context, id uuid.UUID) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, g Group) (Group, error)
	UpdateGroup(ctx context.Context, g Group) (Group, error)
	DeleteGroup(ctx context.Context, id uuid.UUID) error

	AddMember(ctx context.Context, groupID, personID uuid.UUID) error
	RemoveMember(ctx context.Context, groupID, personID uuid.UUID) error
	MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	GroupsOf(ctx context.Context, personID uuid.UUID) ([]uuid.UUID, error)
}

// Invalidator busts cached permission sets when membership shifts.
// Implemented by the RBAC service.
type Invalidator interface {
	Invalidate(ctx context.Context, subject rbac.Subject) error
}

// Service wraps directory business rules. Membership mutations notify
// the invalidator so permission checks never act on stale membership.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	audit       *shared.AuditLogger
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, invalidator Invalidator, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, audit: audit, logger: logger}
}

// People

// GetPerson fetches a person.
func (s *Service) GetPerson(ctx context.Context, id uuid.UUID) (Person, error) {
	return s.repo.GetPerson(ctx, id)
}

// ListPeople pages through the directory.
func (s *Service) ListPeople(ctx context.Context, p shared.Pagination) ([]Person, error) {
	return s.repo.ListPeople(ctx, p.PerPage, p.Offset())
}

// CreatePerson registers a person.
func (s *Service) CreatePerson(ctx context.Context, actor *uuid.UUID, p Person) (Person, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	created, err := s.repo.CreatePerson(ctx, p)
	if err != nil {
		return Person{}, err
	}
	s.record(ctx, actor, "directory.person.create", "person", created.ID.String())
	return created, nil
}

// UpdatePerson updates profile fields. Deactivating a person does not
// delete their assignments; checks fail closed while inactive accounts
// cannot sign in.
func (s *Service) UpdatePerson(ctx context.Context, actor *uuid.UUID, p Person) (Person, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	updated, err := s.repo.UpdatePerson(ctx, p)
	if err != nil {
		return Person{}, err
	}
	s.record(ctx, actor, "directory.person.update", "person", p.ID.String())
	return updated, nil
}

// DeletePerson removes a person and flushes their cached permissions.
func (s *Service) DeletePerson(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	if err := s.repo.DeletePerson(ctx, id); err != nil {
		return err
	}
	if err := s.invalidate(ctx, rbac.PersonSubject(id)); err != nil {
		return err
	}
	s.record(ctx, actor, "directory.person.delete", "person", id.String())
	return nil
}

// Groups

// GetGroup fetches a group.
func (s *Service) GetGroup(ctx context.Context, id uuid.UUID) (Group, error) {
	return s.repo.GetGroup(ctx, id)
}

// ListGroups returns every group.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	return s.repo.ListGroups(ctx)
}

// CreateGroup registers a group.
func (s *Service) CreateGroup(ctx context.Context, actor *uuid.UUID, g Group) (Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	created, err := s.repo.CreateGroup(ctx, g)
	if err != nil {
		return Group{}, err
	}
	s.record(ctx, actor, "directory.group.create", "group", created.ID.String())
	return created, nil
}

// UpdateGroup updates name and description.
func (s *Service) UpdateGroup(ctx context.Context, actor *uuid.UUID, g Group) (Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	updated, err := s.repo.UpdateGroup(ctx, g)
	if err != nil {
		return Group{}, err
	}
	s.record(ctx, actor, "directory.group.update", "group", g.ID.String())
	return updated, nil
}

// DeleteGroup removes a group. Members are invalidated first, while the
// membership rows still exist to fan out over.
func (s *Service) DeleteGroup(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	if err := s.invalidate(ctx, rbac.GroupSubject(id)); err != nil {
		return err
	}
	if err := s.repo.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "directory.group.delete", "group", id.String())
	return nil
}

// Membership

// AddMember puts a person into a group. The person inherits the group's
// role assignments on their next permission check.
func (s *Service) AddMember(ctx context.Context, actor *uuid.UUID, groupID, personID uuid.UUID) error {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.repo.GetPerson(ctx, personID); err != nil {
		return err
	}
	if err := s.repo.AddMember(ctx, groupID, personID); err != nil {
		return err
	}
	if err := s.invalidate(ctx, rbac.PersonSubject(personID)); err != nil {
		return err
	}
	s.record(ctx, actor, "directory.group.add_member", "group", groupID.String())
	return nil
}

// RemoveMember takes a person out of a group and revokes the inherited
// grants on their next permission check.
func (s *Service) RemoveMember(ctx context.Context, actor *uuid.UUID, groupID, personID uuid.UUID) error {
	if err := s.repo.RemoveMember(ctx, groupID, personID); err != nil {
		return err
	}
	if err := s.invalidate(ctx, rbac.PersonSubject(personID)); err != nil {
		return err
	}
	s.record(ctx, actor, "directory.group.remove_member", "group", groupID.String())
	return nil
}

// ListMembers resolves member IDs into person records.
func (s *Service) ListMembers(ctx context.Context, groupID uuid.UUID) ([]Person, error) {
	ids, err := s.repo.MembersOf(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]Person, 0, len(ids))
	for _, id := range ids {
		p, err := s.repo.GetPerson(ctx, id)
		if err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return members, nil
}

func (s *Service) invalidate(ctx context.Context, subject rbac.Subject) error {
	if s.invalidator == nil {
		return nil
	}
	return s.invalidator.Invalidate(ctx, subject)
}

func (s *Service) record(ctx context.Context, actor *uuid.UUID, action, entity, entityID string) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{Action: action, Entity: entity, EntityID: entityID}
	if actor != nil {
		log.ActorID = *actor
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("directory audit record", slog.Any("error", err))
	}
}
