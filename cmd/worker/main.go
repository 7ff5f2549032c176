package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/topoclimb/topoclimb/internal/app"
	"github.com/topoclimb/topoclimb/internal/catalog"
	"github.com/topoclimb/topoclimb/internal/observability"
	"github.com/topoclimb/topoclimb/internal/platform/db"
	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("topoclimb-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	catalogService, err := catalog.NewService(catalog.NewStore(pool), shared.NewValidator(), logger)
	if err != nil {
		logger.Error("init catalog service", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := observability.NewWorkerMetrics()
	statsJob := jobs.NewStatsRefreshJob(catalogService, logger, metrics.Jobs())

	if cfg.WorkerMetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.WorkerMetricsAddr)
		if err != nil {
			logger.Error("listen worker metrics", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := metrics.Serve(ctx, ln, logger); err != nil {
				logger.Error("worker metrics listener", slog.Any("error", err))
			}
		}()
	}

	var cron []jobs.CronRegistration
	if cfg.CatalogStatsCron != "" {
		statsTask, err := jobs.NewStatsRefreshTask("schedule", 0)
		if err != nil {
			logger.Error("build stats task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.CatalogStatsCron, Task: statsTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	redisOpt, err := jobs.RedisConnOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("configure job queue", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpt,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCatalogStatsRefresh, Handler: statsJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	enqueueStartupRefresh(ctx, redisOpt, logger)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// enqueueStartupRefresh queues one refresh so the stats gauges are populated
// without waiting for the first cron tick.
func enqueueStartupRefresh(ctx context.Context, redisOpt asynq.RedisConnOpt, logger *slog.Logger) {
	client, err := jobs.NewClient(redisOpt)
	if err != nil {
		logger.Warn("startup stats refresh skipped", slog.Any("error", err))
		return
	}
	defer client.Close()
	if _, err := client.EnqueueStatsRefresh(ctx, "startup", 0); err != nil {
		logger.Warn("startup stats refresh skipped", slog.Any("error", err))
	}
}
