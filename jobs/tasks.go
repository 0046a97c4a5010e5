package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGroupInvalidate fans a group cache invalidation out to members.
	TaskGroupInvalidate = "rbac:group_invalidate"
	// TaskCacheWarmup pre-builds permission sets for active people.
	TaskCacheWarmup = "rbac:cache_warmup"
	// TaskAuditRetention prunes expired audit log entries.
	TaskAuditRetention = "audit:retention"
)

// GroupInvalidatePayload names the group whose members need fresh
// permission sets.
type GroupInvalidatePayload struct {
	GroupID uuid.UUID `json:"group_id"`
}

// NewGroupInvalidateTask constructs an Asynq task for a group fan-out.
func NewGroupInvalidateTask(groupID uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(GroupInvalidatePayload{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGroupInvalidate, body, asynq.Queue(QueueDefault)), nil
}

// CacheWarmupPayload carries scheduling metadata for the warmup run.
type CacheWarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCacheWarmupTask constructs an Asynq task for permission cache warmup.
func NewCacheWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CacheWarmupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, body, asynq.Queue(QueueDefault)), nil
}

// AuditRetentionPayload configures how much audit history survives a
// retention run.
type AuditRetentionPayload struct {
	RetainDays int `json:"retain_days"`
}

// NewAuditRetentionTask constructs an Asynq task for audit log pruning.
func NewAuditRetentionTask(retainDays int) (*asynq.Task, error) {
	body, err := json.Marshal(AuditRetentionPayload{RetainDays: retainDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, body, asynq.Queue(QueueDefault)), nil
}
