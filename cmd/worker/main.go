package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/prismcms/prism/internal/app"
	jobmetrics "github.com/prismcms/prism/internal/jobs"
	"github.com/prismcms/prism/internal/platform/cache"
	"github.com/prismcms/prism/internal/rbac"
	"github.com/prismcms/prism/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.RedisAddr == "" {
		slog.Default().Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	catalog, err := app.LoadCatalog(cfg)
	if err != nil {
		logger.Error("load catalog", slog.Any("error", err))
		os.Exit(1)
	}

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

	metrics := rbac.NewMetrics(nil)
	mirror := rbac.NewMirror(redisClient, catalog.CacheSettings().TTL, logger)
	decisionCache := rbac.NewDecisionCache(rbac.CacheOptions{
		TTL:             catalog.CacheSettings().TTL,
		CleanupInterval: catalog.CacheSettings().CleanupInterval,
		MaxEntries:      catalog.CacheSettings().MaxEntries,
		Mirror:          mirror,
		Metrics:         metrics,
		Logger:          logger,
	})
	checker := rbac.NewChecker(rbac.CheckerOptions{
		Catalog: catalog,
		Cache:   decisionCache,
		Metrics: metrics,
		Logger:  logger,
	})
	warmer := rbac.NewWarmer(checker, decisionCache, logger)
	catalog.Subscribe(warmer)

	jobMetrics := jobmetrics.NewMetrics(nil)
	warmupJob := jobs.NewCacheWarmupJob(warmer, catalog, logger, jobMetrics)
	revalidateJob := jobs.NewConfigRevalidateJob(catalog, logger, jobMetrics)

	warmupTask, err := jobs.NewCacheWarmupTask(jobs.CacheWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	revalidateTask, err := jobs.NewConfigRevalidateTask()
	if err != nil {
		logger.Error("build revalidate task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskConfigRevalidate, Handler: revalidateJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: revalidateTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
