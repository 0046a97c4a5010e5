package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stackdesk/stackdesk/internal/jobs"
	"github.com/stackdesk/stackdesk/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SubjectInvalidator bumps cache versions for a subject. The RBAC engine
// satisfies it; for groups the bump fans out to every member.
type SubjectInvalidator interface {
	Invalidate(ctx context.Context, subject rbac.Subject) error
}

// GroupInvalidateJob completes the fan-out the API deferred for groups
// whose membership exceeds the inline limit.
type GroupInvalidateJob struct {
	Invalidator SubjectInvalidator
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewGroupInvalidateJob wires dependencies for the fan-out handler.
func NewGroupInvalidateJob(invalidator SubjectInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *GroupInvalidateJob {
	return &GroupInvalidateJob{Invalidator: invalidator, Logger: logger, Metrics: metrics}
}

// Handle processes group invalidation tasks.
func (j *GroupInvalidateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Invalidator == nil {
		return errors.New("group invalidate: handler not configured")
	}
	var payload GroupInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskGroupInvalidate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("group_id", payload.GroupID.String()))
	if err := j.Invalidator.Invalidate(ctx, rbac.GroupSubject(payload.GroupID)); err != nil {
		resultErr = err
		logger.Error("group fan-out", slog.Any("error", err))
		return resultErr
	}
	logger.Info("group fan-out completed")
	return resultErr
}

func (j *GroupInvalidateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GroupInvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGroupInvalidate))
	}
	return slog.Default().With(slog.String("job", TaskGroupInvalidate))
}
