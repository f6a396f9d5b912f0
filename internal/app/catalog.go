package app

import (
	"fmt"
	"os"

	"github.com/prismcms/prism/internal/rbac"
)

// LoadCatalog builds the permission catalog from the configured document,
// falling back to the built-in defaults. Environment values fill in any
// cache or security settings the document leaves unset, then the snapshot
// is validated as a whole before becoming active.
func LoadCatalog(cfg *Config) (*rbac.Catalog, error) {
	snap := rbac.DefaultSnapshot()
	if cfg.RBACConfigPath != "" {
		data, err := os.ReadFile(cfg.RBACConfigPath)
		if err != nil {
			return nil, fmt.Errorf("app: read rbac config: %w", err)
		}
		snap, err = rbac.DecodeSnapshot(data)
		if err != nil {
			return nil, err
		}
	}
	if snap.Cache.TTL == 0 {
		snap.Cache.TTL = cfg.CacheTTL
	}
	if snap.Cache.CleanupInterval == 0 {
		snap.Cache.CleanupInterval = cfg.CacheCleanupInterval
	}
	if snap.Cache.MaxEntries == 0 {
		snap.Cache.MaxEntries = cfg.CacheMaxEntries
	}
	if snap.Security.MaxFailedAttempts == 0 {
		snap.Security.MaxFailedAttempts = cfg.MaxFailedAttempts
	}
	if snap.Security.LockoutDuration == 0 {
		snap.Security.LockoutDuration = cfg.LockoutDuration
	}
	return rbac.NewCatalog(snap)
}
