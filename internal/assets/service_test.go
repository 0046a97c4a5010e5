package assets

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
	locations  map[uuid.UUID]Location
	devices    map[uuid.UUID]Device
	placements map[string]uuid.UUID // objectType|objectID -> location
}

func newMemRepo() *memRepo {
	return &memRepo{
		locations:  make(map[uuid.UUID]Location),
		devices:    make(map[uuid.UUID]Device),
		placements: make(map[string]uuid.UUID),
	}
}

func placementKey(objectType string, objectID uuid.UUID) string {
	return objectType + "|" + objectID.String()
}

func (m *memRepo) GetLocation(ctx context.Context, id uuid.UUID) (Location, error) {
	l, ok := m.locations[id]
	if !ok {
		return Location{}, shared.ErrNotFound
	}
	return l, nil
}

func (m *memRepo) ListLocations(ctx context.Context) ([]Location, error) {
	out := make([]Location, 0, len(m.locations))
	for _, l := range m.locations {
		out = append(out, l)
	}
	return out, nil
}

func (m *memRepo) CreateLocation(ctx context.Context, l Location) (Location, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	m.locations[l.ID] = l
	return l, nil
}

func (m *memRepo) UpdateLocation(ctx context.Context, l Location) (Location, error) {
	if _, ok := m.locations[l.ID]; !ok {
		return Location{}, shared.ErrNotFound
	}
	m.locations[l.ID] = l
	return l, nil
}

func (m *memRepo) DeleteLocation(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.locations[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.locations, id)
	return nil
}

func (m *memRepo) LocationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, ok := m.locations[id]
	return ok, nil
}

func (m *memRepo) GetDevice(ctx context.Context, id uuid.UUID) (Device, error) {
	d, ok := m.devices[id]
	if !ok {
		return Device{}, shared.ErrNotFound
	}
	return d, nil
}

func (m *memRepo) ListDevices(ctx context.Context, locationID *uuid.UUID, limit, offset int) ([]Device, error) {
	var out []Device
	for _, d := range m.devices {
		if locationID == nil || (d.LocationID != nil && *d.LocationID == *locationID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) CreateDevice(ctx context.Context, d Device) (Device, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.devices[d.ID] = d
	return d, nil
}

func (m *memRepo) UpdateDevice(ctx context.Context, d Device) (Device, error) {
	if _, ok := m.devices[d.ID]; !ok {
		return Device{}, shared.ErrNotFound
	}
	m.devices[d.ID] = d
	return d, nil
}

func (m *memRepo) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.devices[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *memRepo) DeviceLocation(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, nil
	}
	return d.LocationID, nil
}

func (m *memRepo) PlaceObject(ctx context.Context, p Placement) error {
	m.placements[placementKey(p.ObjectType, p.ObjectID)] = p.LocationID
	return nil
}

func (m *memRepo) RemovePlacement(ctx context.Context, objectType string, objectID uuid.UUID) error {
	key := placementKey(objectType, objectID)
	if _, ok := m.placements[key]; !ok {
		return shared.ErrNotFound
	}
	delete(m.placements, key)
	return nil
}

func (m *memRepo) PlacementLocation(ctx context.Context, objectType string, objectID uuid.UUID) (*uuid.UUID, error) {
	loc, ok := m.placements[placementKey(objectType, objectID)]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func TestLocationOfDevice(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	loc, err := repo.CreateLocation(context.Background(), Location{Name: "HQ"})
	require.NoError(t, err)
	placed, err := repo.CreateDevice(context.Background(), Device{Name: "laptop-01", LocationID: &loc.ID})
	require.NoError(t, err)
	unplaced, err := repo.CreateDevice(context.Background(), Device{Name: "laptop-02"})
	require.NoError(t, err)

	got, err := svc.LocationOf(context.Background(), rbac.ObjectDevice, placed.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc.ID, *got)

	got, err = svc.LocationOf(context.Background(), rbac.ObjectDevice, unplaced.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = svc.LocationOf(context.Background(), rbac.ObjectDevice, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got, "an unknown device resolves to no location")
}

func TestLocationOfLocationIsItself(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	loc, err := repo.CreateLocation(context.Background(), Location{Name: "HQ"})
	require.NoError(t, err)

	got, err := svc.LocationOf(context.Background(), rbac.ObjectLocation, loc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc.ID, *got)

	got, err = svc.LocationOf(context.Background(), rbac.ObjectLocation, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocationOfPlacedObject(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	loc, err := repo.CreateLocation(context.Background(), Location{Name: "HQ"})
	require.NoError(t, err)
	contract := uuid.New()
	require.NoError(t, svc.PlaceObject(context.Background(), nil, rbac.ObjectContract, contract, loc.ID))

	got, err := svc.LocationOf(context.Background(), rbac.ObjectContract, contract)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, loc.ID, *got)

	require.NoError(t, svc.RemovePlacement(context.Background(), nil, rbac.ObjectContract, contract))
	got, err = svc.LocationOf(context.Background(), rbac.ObjectContract, contract)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPlaceObjectValidation(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	loc, err := repo.CreateLocation(context.Background(), Location{Name: "HQ"})
	require.NoError(t, err)

	err = svc.PlaceObject(context.Background(), nil, rbac.ObjectType("spaceship"), uuid.New(), loc.ID)
	var invalidErr *rbac.InvalidAssignmentError
	assert.ErrorAs(t, err, &invalidErr)

	err = svc.PlaceObject(context.Background(), nil, rbac.ObjectContract, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateDeviceDefaultsStatus(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)

	d, err := svc.CreateDevice(context.Background(), nil, Device{Name: "laptop-01"})
	require.NoError(t, err)
	assert.Equal(t, DeviceInStock, d.Status)

	_, err = svc.CreateDevice(context.Background(), nil, Device{Name: "laptop-02", Status: DeviceStatus("lost")})
	var invalidErr *rbac.InvalidAssignmentError
	assert.ErrorAs(t, err, &invalidErr)
}
