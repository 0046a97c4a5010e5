package overrides

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/internal/shared"
)

type memRepo struct {
	byID map[uuid.UUID]Override
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[uuid.UUID]Override)}
}

func (m *memRepo) Create(ctx context.Context, o Override) (Override, error) {
	for id, existing := range m.byID {
		if existing.Subject == o.Subject && existing.RoleID == o.RoleID &&
			existing.ObjectType == o.ObjectType && existing.ObjectID == o.ObjectID {
			existing.CreatedBy = o.CreatedBy
			m.byID[id] = existing
			return existing, nil
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	m.byID[o.ID] = o
	return o, nil
}

func (m *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.byID[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memRepo) ListForSubject(ctx context.Context, subject rbac.Subject) ([]Override, error) {
	var out []Override
	for _, o := range m.byID {
		if o.Subject == subject {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memRepo) IsGranted(ctx context.Context, subject rbac.Subject, roleID uuid.UUID, objectType rbac.ObjectType, objectID uuid.UUID) (bool, error) {
	for _, o := range m.byID {
		if o.Subject == subject && o.RoleID == roleID && o.ObjectType == objectType && o.ObjectID == objectID {
			return true, nil
		}
	}
	return false, nil
}

func TestGrantAndRevoke(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	subject := rbac.PersonSubject(uuid.New())
	roleID := uuid.New()
	objectID := uuid.New()

	created, err := svc.Grant(context.Background(), nil, Override{
		Subject:    subject,
		RoleID:     roleID,
		ObjectType: rbac.ObjectDocument,
		ObjectID:   objectID,
	})
	require.NoError(t, err)

	granted, err := svc.IsGranted(context.Background(), subject, roleID, rbac.ObjectDocument, objectID)
	require.NoError(t, err)
	assert.True(t, granted)

	// Same role, different object: no grant.
	granted, err = svc.IsGranted(context.Background(), subject, roleID, rbac.ObjectDocument, uuid.New())
	require.NoError(t, err)
	assert.False(t, granted)

	require.NoError(t, svc.Revoke(context.Background(), nil, created.ID))
	granted, err = svc.IsGranted(context.Background(), subject, roleID, rbac.ObjectDocument, objectID)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestGrantIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	o := Override{
		Subject:    rbac.PersonSubject(uuid.New()),
		RoleID:     uuid.New(),
		ObjectType: rbac.ObjectDevice,
		ObjectID:   uuid.New(),
	}
	first, err := svc.Grant(context.Background(), nil, o)
	require.NoError(t, err)
	second, err := svc.Grant(context.Background(), nil, o)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGrantValidation(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)

	var invalidErr *rbac.InvalidAssignmentError
	_, err := svc.Grant(context.Background(), nil, Override{
		Subject:    rbac.Subject{Kind: rbac.SubjectKind("robot"), ID: uuid.New()},
		RoleID:     uuid.New(),
		ObjectType: rbac.ObjectDevice,
		ObjectID:   uuid.New(),
	})
	assert.ErrorAs(t, err, &invalidErr)

	_, err = svc.Grant(context.Background(), nil, Override{
		Subject:    rbac.PersonSubject(uuid.New()),
		RoleID:     uuid.New(),
		ObjectType: rbac.ObjectType("spaceship"),
		ObjectID:   uuid.New(),
	})
	assert.ErrorAs(t, err, &invalidErr)
}
