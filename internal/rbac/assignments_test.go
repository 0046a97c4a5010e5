package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignmentValidatesScope(t *testing.T) {
	e := newEnv()
	role := e.mustRole("Viewer", nil)
	person := e.store.addPerson()

	cases := []struct {
		name  string
		scope Scope
	}{
		{"location without locations", Scope{Kind: ScopeLocation}},
		{"global with locations", Scope{Kind: ScopeGlobal, Locations: []uuid.UUID{uuid.New()}}},
		{"specific_objects with locations", Scope{Kind: ScopeSpecificObjects, Locations: []uuid.UUID{uuid.New()}}},
		{"unknown kind", Scope{Kind: ScopeKind("tenant")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.assignments.Create(context.Background(), Assignment{
				RoleID:  role.ID,
				Subject: PersonSubject(person),
				Scope:   tc.scope,
			})
			var invalidErr *InvalidAssignmentError
			assert.ErrorAs(t, err, &invalidErr)
		})
	}
}

func TestCreateAssignmentRejectsUnknownSubject(t *testing.T) {
	e := newEnv()
	role := e.mustRole("Viewer", nil)

	_, err := e.assignments.Create(context.Background(), Assignment{
		RoleID:  role.ID,
		Subject: PersonSubject(uuid.New()),
		Scope:   GlobalScope(),
	})
	var invalidErr *InvalidAssignmentError
	require.ErrorAs(t, err, &invalidErr)
	assert.Contains(t, invalidErr.Reason, "person")

	_, err = e.assignments.Create(context.Background(), Assignment{
		RoleID:  role.ID,
		Subject: GroupSubject(uuid.New()),
		Scope:   GlobalScope(),
	})
	require.ErrorAs(t, err, &invalidErr)
	assert.Contains(t, invalidErr.Reason, "group")
}

func TestCreateAssignmentRejectsUnknownRole(t *testing.T) {
	e := newEnv()
	person := e.store.addPerson()

	_, err := e.assignments.Create(context.Background(), Assignment{
		RoleID:  uuid.New(),
		Subject: PersonSubject(person),
		Scope:   GlobalScope(),
	})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateAssignmentDirectoryOutage(t *testing.T) {
	e := newEnv()
	role := e.mustRole("Viewer", nil)
	person := e.store.addPerson()

	e.store.directoryErr = errors.New("ldap unreachable")
	defer func() { e.store.directoryErr = nil }()

	_, err := e.assignments.Create(context.Background(), Assignment{
		RoleID:  role.ID,
		Subject: PersonSubject(person),
		Scope:   GlobalScope(),
	})
	var collabErr *CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, "directory", collabErr.Resolver)
}

func TestCreateAssignmentTrimsNote(t *testing.T) {
	e := newEnv()
	role := e.mustRole("Viewer", nil)
	person := e.store.addPerson()

	a, err := e.assignments.Create(context.Background(), Assignment{
		RoleID:  role.ID,
		Subject: PersonSubject(person),
		Scope:   GlobalScope(),
		Note:    "  onboarding batch 12  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "onboarding batch 12", a.Note)
	assert.NotEqual(t, uuid.Nil, a.ID)
}

func TestUpdateAssignmentScopeSwitchClearsLocations(t *testing.T) {
	e := newEnv()
	role := e.mustRole("Viewer", nil)
	person := e.store.addPerson()
	a := e.mustAssign(role.ID, PersonSubject(person), LocationScope(uuid.New(), uuid.New()))

	global := GlobalScope()
	updated, err := e.assignments.Update(context.Background(), a.ID, AssignmentPatch{Scope: &global})
	require.NoError(t, err)
	assert.Equal(t, ScopeGlobal, updated.Scope.Kind)
	assert.Empty(t, updated.Scope.Locations)
}

func TestUpdateAssignmentPatchesNoteOnly(t *testing.T) {
	e := newEnv()
	role := e.mustRole("Viewer", nil)
	person := e.store.addPerson()
	loc := uuid.New()
	a := e.mustAssign(role.ID, PersonSubject(person), LocationScope(loc))

	note := "scoped to HQ"
	updated, err := e.assignments.Update(context.Background(), a.ID, AssignmentPatch{Note: &note})
	require.NoError(t, err)
	assert.Equal(t, "scoped to HQ", updated.Note)
	assert.Equal(t, ScopeLocation, updated.Scope.Kind)
	assert.Equal(t, []uuid.UUID{loc}, updated.Scope.Locations)
}

func TestUpdateAssignmentRejectsInvalidScope(t *testing.T) {
	e := newEnv()
	role := e.mustRole("Viewer", nil)
	person := e.store.addPerson()
	a := e.mustAssign(role.ID, PersonSubject(person), GlobalScope())

	bad := Scope{Kind: ScopeLocation}
	_, err := e.assignments.Update(context.Background(), a.ID, AssignmentPatch{Scope: &bad})
	var invalidErr *InvalidAssignmentError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestDeleteAssignmentNotFound(t *testing.T) {
	e := newEnv()
	err := e.assignments.Delete(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListForRolesEmptyInput(t *testing.T) {
	e := newEnv()
	out, err := e.assignments.ListForRoles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
