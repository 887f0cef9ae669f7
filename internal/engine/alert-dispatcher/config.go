// internal/engine/alert-dispatcher/config.go
package alertdispatcher

import (
	"time"

	"listing-alerts/internal/common/config"
)

type Config struct {
	SuppressionWindow    time.Duration
	AlertOnPriceIncrease bool
	// ReleaseTimeout bounds the rollback of reservations after a failed batch.
	ReleaseTimeout time.Duration
}

func LoadConfig(cfg config.DispatcherConfig) *Config {
	return &Config{
		SuppressionWindow:    cfg.SuppressionWindowDuration(),
		AlertOnPriceIncrease: cfg.AlertOnPriceIncrease,
		ReleaseTimeout:       5 * time.Second,
	}
}
