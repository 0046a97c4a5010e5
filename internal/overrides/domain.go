package overrides

import (
	"time"

	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/rbac"
)

// Override whitelists one object instance for a specific_objects scoped
// role assignment. Without a matching override such an assignment grants
// nothing.
type Override struct {
	ID         uuid.UUID
	Subject    rbac.Subject
	RoleID     uuid.UUID
	ObjectType rbac.ObjectType
	ObjectID   uuid.UUID
	CreatedBy  *uuid.UUID
	CreatedAt  time.Time
}
