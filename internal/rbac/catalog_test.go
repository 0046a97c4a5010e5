package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedBuildsFullMatrix(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.catalog.Seed(context.Background()))

	perms, err := e.catalog.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, perms, len(ObjectTypes())*len(Actions()))

	// Running again must not duplicate anything.
	require.NoError(t, e.catalog.Seed(context.Background()))
	perms, err = e.catalog.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, perms, len(ObjectTypes())*len(Actions()))
}

func TestListFilteredByObjectType(t *testing.T) {
	e := newEnv()
	require.NoError(t, e.catalog.Seed(context.Background()))

	device := ObjectDevice
	perms, err := e.catalog.List(context.Background(), &device)
	require.NoError(t, err)
	assert.Len(t, perms, len(Actions()))
	for _, p := range perms {
		assert.Equal(t, ObjectDevice, p.ObjectType)
	}

	bogus := ObjectType("spaceship")
	_, err = e.catalog.List(context.Background(), &bogus)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindUnknownPairs(t *testing.T) {
	e := newEnv()
	e.mustPermission(ObjectDevice, ActionView)

	_, err := e.catalog.Find(context.Background(), ObjectDevice, ActionDelete)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = e.catalog.Find(context.Background(), ObjectType("spaceship"), ActionView)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = e.catalog.Find(context.Background(), ObjectDevice, Action("launch"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEnsureRejectsUnknownEnums(t *testing.T) {
	e := newEnv()

	var invalidErr *InvalidAssignmentError
	_, err := e.catalog.Ensure(context.Background(), ObjectType("spaceship"), ActionView, "")
	assert.ErrorAs(t, err, &invalidErr)

	_, err = e.catalog.Ensure(context.Background(), ObjectDevice, Action("launch"), "")
	assert.ErrorAs(t, err, &invalidErr)
}

func TestEnsureIsIdempotentOnIdentity(t *testing.T) {
	e := newEnv()
	first, err := e.catalog.Ensure(context.Background(), ObjectDevice, ActionView, "")
	require.NoError(t, err)

	second, err := e.catalog.Ensure(context.Background(), ObjectDevice, ActionView, "refreshed")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "the (object type, action) pair is the permission's identity")
}

func TestPermissionDisplayName(t *testing.T) {
	assert.Equal(t, "View: Device", PermissionDisplayName(ObjectDevice, ActionView))
	assert.Equal(t, "Manage Permissions: Saas Service", PermissionDisplayName(ObjectSaaSService, ActionManagePermissions))
	assert.Equal(t, "Edit: Ip Address", PermissionDisplayName(ObjectIPAddress, ActionEdit))
}
