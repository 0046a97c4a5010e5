package directory

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
	people  map[uuid.UUID]Person
	groups  map[uuid.UUID]Group
	members map[uuid.UUID][]uuid.UUID
}

func newMemRepo() *memRepo {
	return &memRepo{
		people:  make(map[uuid.UUID]Person),
		groups:  make(map[uuid.UUID]Group),
		members: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *memRepo) GetPerson(ctx context.Context, id uuid.UUID) (Person, error) {
	p, ok := m.people[id]
	if !ok {
		return Person{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) ListPeople(ctx context.Context, limit, offset int) ([]Person, error) {
	out := make([]Person, 0, len(m.people))
	for _, p := range m.people {
		out = append(out, p)
	}
	return out, nil
}

func (m *memRepo) CreatePerson(ctx context.Context, p Person) (Person, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.people[p.ID] = p
	return p, nil
}

func (m *memRepo) UpdatePerson(ctx context.Context, p Person) (Person, error) {
	if _, ok := m.people[p.ID]; !ok {
		return Person{}, shared.ErrNotFound
	}
	m.people[p.ID] = p
	return p, nil
}

func (m *memRepo) DeletePerson(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.people[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.people, id)
	return nil
}

func (m *memRepo) GetGroup(ctx context.Context, id uuid.UUID) (Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return Group{}, shared.ErrNotFound
	}
	return g, nil
}

func (m *memRepo) ListGroups(ctx context.Context) ([]Group, error) {
	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out, nil
}

func (m *memRepo) CreateGroup(ctx context.Context, g Group) (Group, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	m.groups[g.ID] = g
	return g, nil
}

func (m *memRepo) UpdateGroup(ctx context.Context, g Group) (Group, error) {
	if _, ok := m.groups[g.ID]; !ok {
		return Group{}, shared.ErrNotFound
	}
	m.groups[g.ID] = g
	return g, nil
}

func (m *memRepo) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.groups[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.groups, id)
	delete(m.members, id)
	return nil
}

func (m *memRepo) AddMember(ctx context.Context, groupID, personID uuid.UUID) error {
	for _, existing := range m.members[groupID] {
		if existing == personID {
			return nil
		}
	}
	m.members[groupID] = append(m.members[groupID], personID)
	return nil
}

func (m *memRepo) RemoveMember(ctx context.Context, groupID, personID uuid.UUID) error {
	list := m.members[groupID]
	for i, existing := range list {
		if existing == personID {
			m.members[groupID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memRepo) MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), m.members[groupID]...), nil
}

func (m *memRepo) GroupsOf(ctx context.Context, personID uuid.UUID) ([]uuid.UUID, error) {
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

type recordingInvalidator struct {
	subjects []rbac.Subject
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, subject rbac.Subject) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

func setup() (*memRepo, *recordingInvalidator, *Service) {
	repo := newMemRepo()
	inv := &recordingInvalidator{}
	return repo, inv, NewService(repo, inv, nil, nil)
}

func TestAddMemberInvalidatesPerson(t *testing.T) {
	repo, inv, svc := setup()
	person, err := repo.CreatePerson(context.Background(), Person{Name: "Ada", Email: "ada@example.com", IsActive: true})
	require.NoError(t, err)
	group, err := repo.CreateGroup(context.Background(), Group{Name: "IT Support"})
	require.NoError(t, err)

	require.NoError(t, svc.AddMember(context.Background(), nil, group.ID, person.ID))

	require.Len(t, inv.subjects, 1)
	assert.Equal(t, rbac.PersonSubject(person.ID), inv.subjects[0])

	groups, err := repo.GroupsOf(context.Background(), person.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{group.ID}, groups)
}

func TestAddMemberUnknownGroup(t *testing.T) {
	repo, inv, svc := setup()
	person, err := repo.CreatePerson(context.Background(), Person{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)

	err = svc.AddMember(context.Background(), nil, uuid.New(), person.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, inv.subjects)
}

func TestRemoveMemberInvalidatesPerson(t *testing.T) {
	repo, inv, svc := setup()
	person, err := repo.CreatePerson(context.Background(), Person{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	group, err := repo.CreateGroup(context.Background(), Group{Name: "IT Support"})
	require.NoError(t, err)
	require.NoError(t, repo.AddMember(context.Background(), group.ID, person.ID))

	require.NoError(t, svc.RemoveMember(context.Background(), nil, group.ID, person.ID))

	require.Len(t, inv.subjects, 1)
	assert.Equal(t, rbac.PersonSubject(person.ID), inv.subjects[0])
}

func TestDeleteGroupInvalidatesBeforeRemoval(t *testing.T) {
	repo, inv, svc := setup()
	group, err := repo.CreateGroup(context.Background(), Group{Name: "IT Support"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteGroup(context.Background(), nil, group.ID))

	require.Len(t, inv.subjects, 1)
	assert.Equal(t, rbac.GroupSubject(group.ID), inv.subjects[0])
	_, err = repo.GetGroup(context.Background(), group.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreatePersonNormalisesEmail(t *testing.T) {
	_, _, svc := setup()
	p, err := svc.CreatePerson(context.Background(), nil, Person{Name: "  Ada Lovelace ", Email: " Ada@Example.COM "})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.Name)
	assert.Equal(t, "ada@example.com", p.Email)
}
