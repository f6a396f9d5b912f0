package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/prismcms/prism/internal/jobs"
	"github.com/prismcms/prism/internal/rbac"
)

// ConfigRevalidateJob periodically re-runs catalog validation so drift
// introduced through administrative edits surfaces in logs and job metrics
// instead of waiting for the next import.
type ConfigRevalidateJob struct {
	Catalog *rbac.Catalog
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConfigRevalidateJob wires dependencies for the revalidation handler.
func NewConfigRevalidateJob(catalog *rbac.Catalog, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConfigRevalidateJob {
	return &ConfigRevalidateJob{Catalog: catalog, Logger: logger, Metrics: metrics}
}

// Handle processes config revalidation tasks.
func (j *ConfigRevalidateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("config revalidate: handler not configured")
	}

	tracker := j.metrics().Track(TaskConfigRevalidate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	violations := j.Catalog.Validate()
	if len(violations) > 0 {
		for _, v := range violations {
			j.logger().Error("catalog violation", slog.String("violation", v))
		}
		resultErr = errors.New("config revalidate: active catalog has violations")
		return resultErr
	}
	j.logger().Info("catalog valid", slog.Uint64("generation", j.Catalog.Generation()))
	return nil
}

func (j *ConfigRevalidateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConfigRevalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
