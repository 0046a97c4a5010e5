package directory

import (
	"time"

	"github.com/google/uuid"
)

// Person is an individual the service knows about. People authenticate,
// hold role assignments and appear as asset owners.
type Person struct {
	ID        uuid.UUID
	Name      string
	Email     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group bundles people so roles can be granted to many at once.
type Group struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
