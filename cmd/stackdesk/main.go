package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stackdesk/stackdesk/internal/app"
	"github.com/stackdesk/stackdesk/internal/assets"
	"github.com/stackdesk/stackdesk/internal/audit"
	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/directory"
	"github.com/stackdesk/stackdesk/internal/observability"
	"github.com/stackdesk/stackdesk/internal/overrides"
	"github.com/stackdesk/stackdesk/internal/platform/cache"
	"github.com/stackdesk/stackdesk/internal/platform/db"
	"github.com/stackdesk/stackdesk/internal/rbac"
	"github.com/stackdesk/stackdesk/internal/shared"
	"github.com/stackdesk/stackdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "stackdesk_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)

	metrics := observability.NewMetrics()
	rbacMetrics := observability.NewRBACMetrics(metrics.Registerer())

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	directoryRepo := directory.NewRepository(dbpool)
	assetsRepo := assets.NewRepository(dbpool)
	overridesRepo := overrides.NewRepository(dbpool)

	assetsService := assets.NewService(assetsRepo, auditLogger, logger)
	overridesService := overrides.NewService(overridesRepo, auditLogger, logger)

	rbacRepo := rbac.NewRepository(dbpool)
	roleStore := rbac.NewHierarchyStore(rbacRepo)
	catalog := rbac.NewCatalog(rbacRepo)
	assignmentStore := rbac.NewAssignmentStore(rbacRepo, rbacRepo, directoryRepo)
	engine := rbac.NewEngine(roleStore, catalog, assignmentStore, directoryRepo, assetsService, overridesService, rbacMetrics, logger)
	rbacService := rbac.NewService(roleStore, catalog, assignmentStore, engine, auditLogger, jobsClient, rbac.ServiceConfig{
		GroupFanoutLimit: cfg.GroupFanoutLimit,
	}, logger)
	rbacMiddleware := rbac.Middleware{Engine: engine, Logger: logger}

	if cfg.SeedCatalog {
		if err := rbacService.SeedCatalog(ctx); err != nil {
			logger.Error("seed permission catalog", slog.Any("error", err))
			os.Exit(1)
		}
	}

	directoryService := directory.NewService(directoryRepo, rbacService, auditLogger, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	rbacHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)
	directoryHandler := directory.NewHandler(logger, directoryService, rbacMiddleware)
	assetsHandler := assets.NewHandler(logger, assetsService, rbacMiddleware)
	overridesHandler := overrides.NewHandler(logger, overridesService, rbacMiddleware)
	auditHandler := audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      authHandler,
		RBACHandler:      rbacHandler,
		DirectoryHandler: directoryHandler,
		AssetsHandler:    assetsHandler,
		OverridesHandler: overridesHandler,
		AuditHandler:     auditHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
