package rbac

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideDefaultDeny(t *testing.T) {
	e := newEnv()
	e.mustPermission(ObjectDevice, ActionView)
	person := e.store.addPerson()

	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)

	assert.False(t, decision.Granted)
	assert.Equal(t, "no matching role assignment", decision.Reason)
	assert.NotEmpty(t, decision.Trace)
}

func TestDecideUncatalogedPermissionDenies(t *testing.T) {
	e := newEnv()
	person := e.store.addPerson()

	decision, err := e.engine.Decide(context.Background(), person, ActionDelete, ObjectNetwork, nil)
	require.NoError(t, err)

	assert.False(t, decision.Granted)
	assert.Contains(t, decision.Reason, "no permission defined")
	assert.NotEmpty(t, decision.Trace)
}

func TestDecideGlobalGrantViaAncestor(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	edit := e.mustPermission(ObjectDevice, ActionEdit)
	viewer := e.mustRole("Viewer", nil, view)
	editor := e.mustRole("Editor", &viewer.ID, edit)

	person := e.store.addPerson()
	e.mustAssign(editor.ID, PersonSubject(person), GlobalScope())

	deviceID := uuid.New()
	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, &deviceID)
	require.NoError(t, err)

	assert.True(t, decision.Granted)
	assert.Contains(t, decision.Reason, `"Editor"`)
	assert.Contains(t, decision.Reason, `ancestor "Viewer"`)
	require.NotEmpty(t, decision.Trace)
	assert.True(t, traceMentions(decision.Trace, "Viewer"), "trace should attribute the permission to the ancestor")
}

func TestDecideGlobalGrantMatchesAnyObject(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()
	e.mustAssign(viewer.ID, PersonSubject(person), GlobalScope())

	// Type-level check.
	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.True(t, decision.Granted)

	// Any instance, located or not.
	obj := uuid.New()
	decision, err = e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, &obj)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestDecideLocationScope(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()

	l1 := uuid.New()
	l2 := uuid.New()
	d1 := uuid.New()
	d2 := uuid.New()
	e.store.placeObject(ObjectDevice, d1, l1)
	e.store.placeObject(ObjectDevice, d2, l2)
	e.mustAssign(viewer.ID, PersonSubject(person), LocationScope(l1))

	// Object in the assignment's location set.
	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, &d1)
	require.NoError(t, err)
	assert.True(t, decision.Granted)

	// Object elsewhere: denied, reason cites the mismatch.
	decision, err = e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, &d2)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.True(t, traceMentions(decision.Trace, "scope mismatch"))

	// Type-level check without an object never matches location scope.
	decision, err = e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.True(t, traceMentions(decision.Trace, "requires a concrete object"))
}

func TestDecideLocationScopeObjectWithoutLocation(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()
	e.mustAssign(viewer.ID, PersonSubject(person), LocationScope(uuid.New()))

	unplaced := uuid.New()
	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, &unplaced)
	require.NoError(t, err)

	assert.False(t, decision.Granted)
	assert.True(t, traceMentions(decision.Trace, "no resolved location"))
}

func TestDecideSpecificObjectsScope(t *testing.T) {
	e := newEnv()
	edit := e.mustPermission(ObjectDocument, ActionEdit)
	editor := e.mustRole("DocEditor", nil, edit)
	person := e.store.addPerson()
	e.mustAssign(editor.ID, PersonSubject(person), SpecificObjectsScope())

	allowed := uuid.New()
	other := uuid.New()
	e.store.grantOverride(PersonSubject(person), editor.ID, ObjectDocument, allowed)

	decision, err := e.engine.Decide(context.Background(), person, ActionEdit, ObjectDocument, &allowed)
	require.NoError(t, err)
	assert.True(t, decision.Granted)

	decision, err = e.engine.Decide(context.Background(), person, ActionEdit, ObjectDocument, &other)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.True(t, traceMentions(decision.Trace, "no object-level override"))

	decision, err = e.engine.Decide(context.Background(), person, ActionEdit, ObjectDocument, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
}

func TestDecideGroupAssignment(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)

	member := e.store.addPerson()
	outsider := e.store.addPerson()
	group := e.store.addGroup(member)
	e.mustAssign(viewer.ID, GroupSubject(group), GlobalScope())

	decision, err := e.engine.Decide(context.Background(), member, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.True(t, decision.Granted)

	decision, err = e.engine.Decide(context.Background(), outsider, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
}

func TestDecideGroupFanOutAfterMembershipChange(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	group := e.store.addGroup()
	e.mustAssign(viewer.ID, GroupSubject(group), GlobalScope())

	newcomer := e.store.addPerson()
	decision, err := e.engine.Decide(context.Background(), newcomer, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)

	// The membership resolver signals the change; no assignment edits.
	e.store.addMember(group, newcomer)
	require.NoError(t, e.engine.Invalidate(context.Background(), PersonSubject(newcomer)))

	decision, err = e.engine.Decide(context.Background(), newcomer, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestDecideDenialTraceListsEveryAssignment(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	e.mustPermission(ObjectPerson, ActionEdit)
	deviceViewer := e.mustRole("DeviceViewer", nil, view)
	emptyRole := e.mustRole("Bystander", nil)

	person := e.store.addPerson()
	l1 := uuid.New()
	e.mustAssign(deviceViewer.ID, PersonSubject(person), LocationScope(l1))
	e.mustAssign(emptyRole.ID, PersonSubject(person), GlobalScope())

	d2 := uuid.New()
	e.store.placeObject(ObjectDevice, d2, uuid.New())
	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, &d2)
	require.NoError(t, err)

	assert.False(t, decision.Granted)
	assert.True(t, traceMentions(decision.Trace, "DeviceViewer"), "scope-mismatched assignment must appear")
	assert.True(t, traceMentions(decision.Trace, "Bystander"), "permission-absent assignment must appear")
	assert.True(t, traceMentions(decision.Trace, "absent"))
}

func TestDecideCollaboratorFailureIsHardError(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()
	e.mustAssign(viewer.ID, PersonSubject(person), LocationScope(uuid.New()))

	boom := errors.New("inventory service down")

	// Membership outage.
	e.store.membershipErr = boom
	_, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	var collabErr *CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.True(t, errors.Is(err, boom))
	e.store.membershipErr = nil

	// Location outage: only reached when an object is addressed.
	e.store.locationErr = boom
	obj := uuid.New()
	_, err = e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, &obj)
	require.ErrorAs(t, err, &collabErr)
	e.store.locationErr = nil

	// Resolvers are lazy: a type-level check never touches the location
	// resolver, so the same outage is invisible to it.
	e.store.locationErr = boom
	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
}

func TestListEffectivePermissions(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	edit := e.mustPermission(ObjectDevice, ActionEdit)
	viewer := e.mustRole("Viewer", nil, view)
	editor := e.mustRole("Editor", &viewer.ID, edit)

	perms, err := e.engine.ListEffectivePermissions(context.Background(), editor.ID, true)
	require.NoError(t, err)
	assert.Len(t, perms, 2)

	perms, err = e.engine.ListEffectivePermissions(context.Background(), editor.ID, false)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, edit.Key(), perms[0].Permission.Key())
}

func traceMentions(trace []string, needle string) bool {
	for _, entry := range trace {
		if strings.Contains(entry, needle) {
			return true
		}
	}
	return false
}
