package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/prismcms/prism/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarmup pre-populates the decision cache for hot principals.
	TaskCacheWarmup = "rbac:cache_warmup"
	// TaskConfigRevalidate re-checks the active catalog against its invariants.
	TaskConfigRevalidate = "rbac:config_revalidate"
)

// CacheWarmupPayload selects the working set to warm. Empty permissions
// fall back to every route-mapped permission in the catalog.
type CacheWarmupPayload struct {
	Permissions []rbac.Permission `json:"permissions,omitempty"`
}

// NewCacheWarmupTask constructs an Asynq task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}

// NewConfigRevalidateTask constructs an Asynq task with no payload.
func NewConfigRevalidateTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskConfigRevalidate, nil), nil
}
