package app

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	CheckTimeout    time.Duration `envconfig:"APP_CHECK_TIMEOUT" default:"2s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// Path to the permission config document; empty uses the built-in catalog.
	RBACConfigPath string `envconfig:"RBAC_CONFIG_PATH"`

	CacheTTL             time.Duration `envconfig:"RBAC_CACHE_TTL" default:"5m"`
	CacheCleanupInterval time.Duration `envconfig:"RBAC_CACHE_CLEANUP_INTERVAL" default:"1h"`
	CacheMaxEntries      int           `envconfig:"RBAC_CACHE_MAX_ENTRIES" default:"0"`
	WarmOnStart          bool          `envconfig:"RBAC_WARM_ON_START" default:"false"`

	// Optional distributed cache mirror; empty disables it.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	MaxFailedAttempts int           `envconfig:"SECURITY_MAX_FAILED_ATTEMPTS" default:"5"`
	LockoutDuration   time.Duration `envconfig:"SECURITY_LOCKOUT_DURATION" default:"15m"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("app: cache ttl must be positive, got %s", cfg.CacheTTL)
	}
	if cfg.RBACConfigPath != "" {
		if _, err := os.Stat(cfg.RBACConfigPath); err != nil {
			return nil, fmt.Errorf("app: rbac config path: %w", err)
		}
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
