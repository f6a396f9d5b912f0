package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/prismcms/prism/internal/jobs"
	"github.com/prismcms/prism/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CacheWarmupJob pre-populates the decision cache for registered hot
// principals so cold-start latency spikes never reach real requests.
type CacheWarmupJob struct {
	Warmer  *rbac.Warmer
	Catalog *rbac.Catalog
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(warmer *rbac.Warmer, catalog *rbac.Catalog, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{Warmer: warmer, Catalog: catalog, Logger: logger, Metrics: metrics}
}

// Handle processes cache warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Warmer == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	permissions := payload.Permissions
	if len(permissions) == 0 {
		permissions = j.routePermissions()
	}
	if len(permissions) == 0 {
		j.logger().Info("no permissions to warm")
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := j.Warmer.Warm(runCtx, permissions); err != nil {
		resultErr = err
		j.logger().Error("cache warmup", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("completed cache warmup", slog.Int("permissions", len(permissions)), slog.Duration("duration", time.Since(start)))
	return nil
}

// routePermissions collects the working set from the catalog's route
// mappings, deduplicated.
func (j *CacheWarmupJob) routePermissions() []rbac.Permission {
	if j.Catalog == nil {
		return nil
	}
	seen := make(map[rbac.Permission]struct{})
	var permissions []rbac.Permission
	for _, route := range j.Catalog.Export().Routes {
		for _, perm := range route.Required {
			if _, dup := seen[perm]; dup {
				continue
			}
			seen[perm] = struct{}{}
			permissions = append(permissions, perm)
		}
	}
	return permissions
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
