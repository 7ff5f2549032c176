package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/topoclimb/topoclimb/internal/app"
	"github.com/topoclimb/topoclimb/internal/auth"
	"github.com/topoclimb/topoclimb/internal/catalog"
	"github.com/topoclimb/topoclimb/internal/observability"
	"github.com/topoclimb/topoclimb/internal/platform/cache"
	"github.com/topoclimb/topoclimb/internal/platform/db"
	"github.com/topoclimb/topoclimb/internal/rbac"
	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/internal/view"
	"github.com/topoclimb/topoclimb/jobs"
	"github.com/topoclimb/topoclimb/report"
)

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return err
	}
	defer dbpool.Close()

	var sessionBackend shared.SessionBackend
	switch cfg.SessionStore {
	case "memory":
		sessionBackend = shared.NewMemoryBackend(cfg.SessionTTL)
		logger.Warn("using in-memory sessions; sessions are lost on restart")
	default:
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		sessionBackend = shared.NewRedisBackend(redisClient)
	}
	sessionManager := shared.NewSessionManager(sessionBackend, "topoclimb_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(logger, dbpool, metrics.SecurityHook())

	csrfManager, err := shared.NewCSRFManager(shared.CSRFOptions{
		Exempt:          cfg.CSRFExemptPaths,
		RotateOnSuccess: cfg.CSRFRotateOnSuccess,
		Audit:           auditLogger,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("configure csrf", slog.Any("error", err))
		return err
	}
	redirectGuard := shared.NewRedirectGuard(cfg.RedirectPolicy(), logger, auditLogger)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		return err
	}

	validator := shared.NewValidator()

	authService, err := auth.NewService(auth.NewRepository(dbpool), validator)
	if err != nil {
		logger.Error("init auth service", slog.Any("error", err))
		return err
	}
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, redirectGuard, auditLogger)

	catalogService, err := catalog.NewService(catalog.NewStore(dbpool), validator, logger)
	if err != nil {
		logger.Error("init catalog service", slog.Any("error", err))
		return err
	}

	redisOpt, err := jobs.RedisConnOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("configure job queue", slog.Any("error", err))
		return err
	}
	jobClient, err := jobs.NewClient(redisOpt)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	catalogAdmin := catalog.NewAdminHandler(logger, catalogService, templates, csrfManager)
	catalogAdmin.SetStatsTrigger(func(ctx context.Context, reason string) error {
		userID, _ := shared.CurrentUserID(ctx)
		_, err := jobClient.EnqueueStatsRefresh(ctx, reason, userID)
		return err
	})

	pdf := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	if !pdf.Enabled() {
		logger.Info("GOTENBERG_URL not set; topo sheet downloads are disabled")
	}
	reportHandler, err := report.NewHandler(catalogService, pdf, logger)
	if err != nil {
		logger.Error("init report handler", slog.Any("error", err))
		return err
	}

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Templates:           templates,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		RBACMiddleware:      rbac.Middleware{Roles: authService, Logger: logger, Audit: auditLogger},
		AuthHandler:         authHandler,
		CatalogHandler:      catalog.NewHandler(logger, catalogService, templates, csrfManager, redirectGuard),
		CatalogAdminHandler: catalogAdmin,
		CatalogAPIHandler:   catalog.NewAPIHandler(logger, catalogService, csrfManager),
		JobHandler:          jobs.NewHandler(inspector, jobClient, templates, csrfManager, logger),
		ReportHandler:       reportHandler,
		Metrics:             metrics,
		HealthCheck: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv),
			slog.Int("rate_limit_per_minute", cfg.RateLimitPerMinute))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
