package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AssignmentRepository defines persistence for role assignments.
type AssignmentRepository interface {
	GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error)
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	UpdateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	DeleteAssignment(ctx context.Context, id uuid.UUID) error
	ListForSubject(ctx context.Context, subject Subject) ([]Assignment, error)
	ListForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]Assignment, error)
}

// SubjectDirectory verifies that an assignment subject actually exists.
// Implemented by the directory package; membership itself stays external.
type SubjectDirectory interface {
	PersonExists(ctx context.Context, id uuid.UUID) (bool, error)
	GroupExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// AssignmentStore manages role-to-subject bindings and enforces the
// scope/subject invariants at write time.
type AssignmentStore struct {
	repo      AssignmentRepository
	roles     RoleRepository
	directory SubjectDirectory
}

// NewAssignmentStore constructs an AssignmentStore.
func NewAssignmentStore(repo AssignmentRepository, roles RoleRepository, directory SubjectDirectory) *AssignmentStore {
	return &AssignmentStore{repo: repo, roles: roles, directory: directory}
}

// Get fetches an assignment by ID.
func (s *AssignmentStore) Get(ctx context.Context, id uuid.UUID) (Assignment, error) {
	return s.repo.GetAssignment(ctx, id)
}

// AssignmentPatch describes an update. Nil fields are left unchanged.
type AssignmentPatch struct {
	Scope *Scope
	Note  *string
}

// Create validates and persists a new assignment.
func (s *AssignmentStore) Create(ctx context.Context, a Assignment) (Assignment, error) {
	if err := a.Scope.Validate(); err != nil {
		return Assignment{}, err
	}
	if err := s.checkSubject(ctx, a.Subject); err != nil {
		return Assignment{}, err
	}
	if _, err := s.roles.GetRole(ctx, a.RoleID); err != nil {
		return Assignment{}, fmt.Errorf("rbac: assignment role: %w", err)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Note = strings.TrimSpace(a.Note)
	return s.repo.CreateAssignment(ctx, a)
}

// Update applies a patch. Switching the scope away from location clears
// any stored locations; the repository persists the scope atomically.
func (s *AssignmentStore) Update(ctx context.Context, id uuid.UUID, patch AssignmentPatch) (Assignment, error) {
	a, err := s.repo.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if patch.Scope != nil {
		if err := patch.Scope.Validate(); err != nil {
			return Assignment{}, err
		}
		a.Scope = *patch.Scope
		if a.Scope.Kind != ScopeLocation {
			a.Scope.Locations = nil
		}
	}
	if patch.Note != nil {
		a.Note = strings.TrimSpace(*patch.Note)
	}
	return s.repo.UpdateAssignment(ctx, a)
}

// Delete removes an assignment.
func (s *AssignmentStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetAssignment(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteAssignment(ctx, id)
}

// ListForSubject returns the assignments bound directly to a subject.
func (s *AssignmentStore) ListForSubject(ctx context.Context, subject Subject) ([]Assignment, error) {
	return s.repo.ListForSubject(ctx, subject)
}

// ListForRole returns the assignments bound to one role.
func (s *AssignmentStore) ListForRole(ctx context.Context, roleID uuid.UUID) ([]Assignment, error) {
	return s.repo.ListForRoles(ctx, []uuid.UUID{roleID})
}

// ListForRoles returns the assignments bound to any of the given roles,
// supporting invalidation fan-out across a role subtree.
func (s *AssignmentStore) ListForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]Assignment, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return s.repo.ListForRoles(ctx, roleIDs)
}

func (s *AssignmentStore) checkSubject(ctx context.Context, subject Subject) error {
	if subject.ID == uuid.Nil {
		return &InvalidAssignmentError{Reason: "subject id required"}
	}
	switch subject.Kind {
	case SubjectPerson:
		ok, err := s.directory.PersonExists(ctx, subject.ID)
		if err != nil {
			return &CollaboratorError{Resolver: "directory", Err: err}
		}
		if !ok {
			return &InvalidAssignmentError{Reason: "subject is not a known person"}
		}
	case SubjectGroup:
		ok, err := s.directory.GroupExists(ctx, subject.ID)
		if err != nil {
			return &CollaboratorError{Resolver: "directory", Err: err}
		}
		if !ok {
			return &InvalidAssignmentError{Reason: "subject is not a known group"}
		}
	default:
		return &InvalidAssignmentError{Reason: "subject must be a person or a group"}
	}
	return nil
}
