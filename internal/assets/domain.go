package assets

import (
	"time"

	"github.com/google/uuid"
)

// Location is a physical site assets live in: an office, a floor, a
// rack room.
type Location struct {
	ID        uuid.UUID
	Name      string
	Address   string
	ParentID  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeviceStatus tracks a device through its lifecycle.
type DeviceStatus string

const (
	DeviceInStock   DeviceStatus = "in_stock"
	DeviceInService DeviceStatus = "in_service"
	DeviceRetired   DeviceStatus = "retired"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceInStock, DeviceInService, DeviceRetired:
		return true
	}
	return false
}

// Device is a managed hardware asset.
type Device struct {
	ID           uuid.UUID
	Name         string
	Category     string
	SerialNumber string
	Status       DeviceStatus
	LocationID   *uuid.UUID
	OwnerID      *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Placement pins a non-device object to a location, so location scoped
// role assignments can reach documents, contracts, networks and the
// rest of the inventory.
type Placement struct {
	ObjectType string
	ObjectID   uuid.UUID
	LocationID uuid.UUID
	CreatedAt  time.Time
}
