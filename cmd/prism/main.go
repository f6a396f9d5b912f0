package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prismcms/prism/internal/app"
	"github.com/prismcms/prism/internal/observability"
	"github.com/prismcms/prism/internal/platform/cache"
	"github.com/prismcms/prism/internal/rbac"
	rbachttp "github.com/prismcms/prism/internal/rbac/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	catalog, err := app.LoadCatalog(cfg)
	if err != nil {
		logger.Error("load catalog", slog.Any("error", err))
		os.Exit(1)
	}
	if violations := catalog.Validate(); len(violations) > 0 {
		for _, v := range violations {
			logger.Error("catalog violation", slog.String("violation", v))
		}
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	engineMetrics := rbac.NewMetrics(metrics.Registerer())

	var mirror *rbac.Mirror
	if cfg.RedisAddr != "" {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			// The mirror is best-effort; run local-only when Redis is down.
			logger.Warn("redis unavailable, mirror disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			mirror = rbac.NewMirror(redisClient, catalog.CacheSettings().TTL, logger)
		}
	}

	decisionCache := rbac.NewDecisionCache(rbac.CacheOptions{
		TTL:             catalog.CacheSettings().TTL,
		CleanupInterval: catalog.CacheSettings().CleanupInterval,
		MaxEntries:      catalog.CacheSettings().MaxEntries,
		Mirror:          mirror,
		Metrics:         engineMetrics,
		Logger:          logger,
	})
	decisionCache.StartJanitor(ctx)
	if mirror != nil {
		mirror.SubscribeInvalidations(ctx, decisionCache)
	}

	auditSink := rbac.NewLogSink(logger, engineMetrics, 0)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := auditSink.Close(closeCtx); err != nil {
			logger.Warn("audit sink close", slog.Any("error", err))
		}
	}()

	checker := rbac.NewChecker(rbac.CheckerOptions{
		Catalog: catalog,
		Cache:   decisionCache,
		Audit:   auditSink,
		Metrics: engineMetrics,
		Logger:  logger,
	})
	warmer := rbac.NewWarmer(checker, decisionCache, logger)
	catalog.Subscribe(warmer)

	if cfg.WarmOnStart {
		var perms []rbac.Permission
		seen := make(map[rbac.Permission]struct{})
		for _, route := range catalog.Export().Routes {
			for _, perm := range route.Required {
				if _, ok := seen[perm]; ok {
					continue
				}
				seen[perm] = struct{}{}
				perms = append(perms, perm)
			}
		}
		warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := warmer.Warm(warmCtx, perms); err != nil {
			logger.Warn("warm on start", slog.Any("error", err))
		}
		cancel()
	}

	guard := rbachttp.Middleware{
		Checker:   checker,
		Principal: rbachttp.PrincipalFromHeaders,
		Tracker:   warmer,
		Logger:    logger,
	}
	adminHandler := &rbachttp.Handler{Checker: checker, Warmer: warmer, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Metrics:      metrics,
		Guard:        guard,
		AdminHandler: adminHandler,
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
