package assets

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
	GetLocation(ctx context.Context, id uuid.UUID) (Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	CreateLocation(ctx context.Context, l Location) (Location, error)
	UpdateLocation(ctx context.Context, l Location) (Location, error)
	DeleteLocation(ctx context.Context, id uuid.UUID) error
	LocationExists(ctx context.Context, id uuid.UUID) (bool, error)

	GetDevice(ctx context.Context, id uuid.UUID) (Device, error)
	ListDevices(ctx context.Context, locationID *uuid.UUID, limit, offset int) ([]Device, error)
	CreateDevice(ctx context.Context, d Device) (Device, error)
	UpdateDevice(ctx context.Context, d Device) (Device, error)
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	DeviceLocation(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)

	PlaceObject(ctx context.Context, p Placement) error
	RemovePlacement(ctx context.Context, objectType string, objectID uuid.UUID) error
	PlacementLocation(ctx context.Context, objectType string, objectID uuid.UUID) (*uuid.UUID, error)
}

// Service wraps asset management rules and answers location lookups for
// permission checks.
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

// LocationOf maps any inventory object to its location. Devices carry
// their own placement column; locations are their own location; every
// other object type resolves through the placement registry. A nil
// result means the object has no location and location scoped grants
// never match it.
func (s *Service) LocationOf(ctx context.Context, objectType rbac.ObjectType, objectID uuid.UUID) (*uuid.UUID, error) {
	switch objectType {
	case rbac.ObjectDevice:
		return s.repo.DeviceLocation(ctx, objectID)
	case rbac.ObjectLocation:
		ok, err := s.repo.LocationExists(ctx, objectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		id := objectID
		return &id, nil
	default:
		return s.repo.PlacementLocation(ctx, string(objectType), objectID)
	}
}

// Locations

// GetLocation fetches a location.
func (s *Service) GetLocation(ctx context.Context, id uuid.UUID) (Location, error) {
	return s.repo.GetLocation(ctx, id)
}

// ListLocations returns every location.
func (s *Service) ListLocations(ctx context.Context) ([]Location, error) {
	return s.repo.ListLocations(ctx)
}

// CreateLocation registers a location.
func (s *Service) CreateLocation(ctx context.Context, actor *uuid.UUID, l Location) (Location, error) {
	l.Name = strings.TrimSpace(l.Name)
	created, err := s.repo.CreateLocation(ctx, l)
	if err != nil {
		return Location{}, err
	}
	s.record(ctx, actor, "assets.location.create", "location", created.ID.String())
	return created, nil
}

// UpdateLocation updates a location.
func (s *Service) UpdateLocation(ctx context.Context, actor *uuid.UUID, l Location) (Location, error) {
	l.Name = strings.TrimSpace(l.Name)
	updated, err := s.repo.UpdateLocation(ctx, l)
	if err != nil {
		return Location{}, err
	}
	s.record(ctx, actor, "assets.location.update", "location", l.ID.String())
	return updated, nil
}

// DeleteLocation removes a location.
func (s *Service) DeleteLocation(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	if err := s.repo.DeleteLocation(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "assets.location.delete", "location", id.String())
	return nil
}

// Devices

// GetDevice fetches a device.
func (s *Service) GetDevice(ctx context.Context, id uuid.UUID) (Device, error) {
	return s.repo.GetDevice(ctx, id)
}

// ListDevices pages through devices, optionally per location.
func (s *Service) ListDevices(ctx context.Context, locationID *uuid.UUID, p shared.Pagination) ([]Device, error) {
	return s.repo.ListDevices(ctx, locationID, p.PerPage, p.Offset())
}

// CreateDevice registers a device. Status defaults to in stock.
func (s *Service) CreateDevice(ctx context.Context, actor *uuid.UUID, d Device) (Device, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Status == "" {
		d.Status = DeviceInStock
	}
	if !d.Status.Valid() {
		return Device{}, &rbac.InvalidAssignmentError{Reason: "unknown device status " + string(d.Status)}
	}
	created, err := s.repo.CreateDevice(ctx, d)
	if err != nil {
		return Device{}, err
	}
	s.record(ctx, actor, "assets.device.create", "device", created.ID.String())
	return created, nil
}

// UpdateDevice updates a device. Moving it between locations changes
// which location scoped grants reach it on the next check; the resolver
// reads placement live, so no cache invalidation is needed.
func (s *Service) UpdateDevice(ctx context.Context, actor *uuid.UUID, d Device) (Device, error) {
	d.Name = strings.TrimSpace(d.Name)
	if !d.Status.Valid() {
		return Device{}, &rbac.InvalidAssignmentError{Reason: "unknown device status " + string(d.Status)}
	}
	updated, err := s.repo.UpdateDevice(ctx, d)
	if err != nil {
		return Device{}, err
	}
	s.record(ctx, actor, "assets.device.update", "device", d.ID.String())
	return updated, nil
}

// DeleteDevice removes a device.
func (s *Service) DeleteDevice(ctx context.Context, actor *uuid.UUID, id uuid.UUID) error {
	if err := s.repo.DeleteDevice(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "assets.device.delete", "device", id.String())
	return nil
}

// Placements

// PlaceObject pins a non-device object to a location.
func (s *Service) PlaceObject(ctx context.Context, actor *uuid.UUID, objectType rbac.ObjectType, objectID, locationID uuid.UUID) error {
	if !objectType.Valid() {
		return &rbac.InvalidAssignmentError{Reason: "unknown object type " + string(objectType)}
	}
	ok, err := s.repo.LocationExists(ctx, locationID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrNotFound
	}
	if err := s.repo.PlaceObject(ctx, Placement{
		ObjectType: string(objectType),
		ObjectID:   objectID,
		LocationID: locationID,
	}); err != nil {
		return err
	}
	s.record(ctx, actor, "assets.placement.set", string(objectType), objectID.String())
	return nil
}

// RemovePlacement unpins an object from its location.
func (s *Service) RemovePlacement(ctx context.Context, actor *uuid.UUID, objectType rbac.ObjectType, objectID uuid.UUID) error {
	if err := s.repo.RemovePlacement(ctx, string(objectType), objectID); err != nil {
		return err
	}
	s.record(ctx, actor, "assets.placement.remove", string(objectType), objectID.String())
	return nil
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
		s.logger.Warn("assets audit record", slog.Any("error", err))
	}
}
