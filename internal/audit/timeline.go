package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/shared"
)

// TimelineFilters narrows the audit timeline query.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  *uuid.UUID
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// Entry is one row of the audit timeline. ActorName is resolved from
// the directory when the actor is still known.
type Entry struct {
	At        time.Time      `json:"at"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	ActorName string         `json:"actor_name,omitempty"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Result bundles timeline rows with pagination metadata.
type Result struct {
	Rows       []Entry
	Pagination shared.Pagination
}
