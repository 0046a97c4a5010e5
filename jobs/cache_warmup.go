package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/stackdesk/stackdesk/internal/jobs"
	"github.com/stackdesk/stackdesk/internal/rbac"
)

// SetBuilder resolves a subject's permission set, populating the cache
// as a side effect. The RBAC engine satisfies it.
type SetBuilder interface {
	ResolvedSet(ctx context.Context, subject rbac.Subject) (*rbac.ResolvedSet, error)
}

// CacheWarmupJob pre-builds permission sets for people with live
// sessions. The cache is per-process, so the warmed entries serve the
// worker's own resolution work (group fan-outs); the run also surfaces
// store or collaborator failures for active people before their next
// request hits them.
type CacheWarmupJob struct {
	Builder SetBuilder
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(builder SetBuilder, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{
		Builder: builder,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes cache warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Builder == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	people, err := j.fetchActivePeople(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load active people", slog.Any("error", err))
		return resultErr
	}
	if len(people) == 0 {
		logger.Info("no active sessions to warm")
		return resultErr
	}

	start := j.now()
	warmed := 0
	for _, personID := range people {
		if err := j.warmPerson(ctx, personID); err != nil {
			resultErr = err
			logger.Error("warm person", slog.String("person_id", personID.String()), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}
	logger.Info("completed cache warmup", slog.Int("people", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CacheWarmupJob) warmPerson(ctx context.Context, personID uuid.UUID) error {
	// Bound each resolution so one slow collaborator cannot stall the run.
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := j.Builder.ResolvedSet(warmCtx, rbac.PersonSubject(personID))
	return err
}

func (j *CacheWarmupJob) fetchActivePeople(ctx context.Context) ([]uuid.UUID, error) {
	if j.Pool == nil {
		return nil, errors.New("cache warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT person_id FROM sessions WHERE expires_at > NOW()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	people := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		people = append(people, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return people, nil
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}

func (j *CacheWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
