package rbac

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// CycleError reports a reparenting that would make a role its own
// ancestor. It is rejected at write time and never reaches resolution.
type CycleError struct {
	RoleID   uuid.UUID
	ParentID uuid.UUID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("rbac: setting parent %s on role %s would create a cycle", e.ParentID, e.RoleID)
}

// InvalidAssignmentError reports an assignment that violates the scope or
// subject invariants.
type InvalidAssignmentError struct {
	Reason string
}

func (e *InvalidAssignmentError) Error() string {
	return "rbac: invalid assignment: " + e.Reason
}

// CollaboratorError wraps a failure from an external resolver. The engine
// never interprets it as a deny; the caller decides how to handle the
// outage.
type CollaboratorError struct {
	Resolver string
	Err      error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("rbac: %s resolver unavailable: %v", e.Resolver, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
