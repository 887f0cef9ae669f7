// internal/catalog/config.go
package catalog

import (
	"time"

	"listing-alerts/internal/common/config"
)

type Config struct {
	// RefreshSchedule is a cron expression; empty disables periodic refresh.
	RefreshSchedule string
	LoadTimeout     time.Duration
}

func LoadConfig(cfg config.CatalogConfig) *Config {
	timeout := config.GetDuration(cfg.LoadTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Config{
		RefreshSchedule: cfg.RefreshSchedule,
		LoadTimeout:     timeout,
	}
}
