package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stackdesk/stackdesk/internal/app"
	"github.com/stackdesk/stackdesk/internal/assets"
	"github.com/stackdesk/stackdesk/internal/directory"
	"github.com/stackdesk/stackdesk/internal/overrides"
	"github.com/stackdesk/stackdesk/internal/platform/db"
	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The worker rebuilds permission sets itself, so it wires the same
	// engine as the API, minus the HTTP surface.
	directoryRepo := directory.NewRepository(pool)
	assetsService := assets.NewService(assets.NewRepository(pool), nil, logger)
	overridesService := overrides.NewService(overrides.NewRepository(pool), nil, logger)

	rbacRepo := rbac.NewRepository(pool)
	roleStore := rbac.NewHierarchyStore(rbacRepo)
	catalog := rbac.NewCatalog(rbacRepo)
	assignmentStore := rbac.NewAssignmentStore(rbacRepo, rbacRepo, directoryRepo)
	engine := rbac.NewEngine(roleStore, catalog, assignmentStore, directoryRepo, assetsService, overridesService, nil, logger)

	groupInvalidateJob := jobs.NewGroupInvalidateJob(engine, logger, nil)
	warmupJob := jobs.NewCacheWarmupJob(engine, pool, logger, nil)
	retentionJob := jobs.NewAuditRetentionJob(pool, logger, nil)

	warmupTask, err := jobs.NewCacheWarmupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	retentionTask, err := jobs.NewAuditRetentionTask(0)
	if err != nil {
		logger.Error("build retention task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGroupInvalidate, Handler: groupInvalidateJob.Handle},
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskAuditRetention, Handler: retentionJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * 0", Task: retentionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
