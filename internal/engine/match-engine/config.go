// internal/engine/match-engine/config.go
package matchengine

import "listing-alerts/internal/common/config"

type Config struct {
	Parallelism int
}

func LoadConfig(cfg config.EngineConfig) *Config {
	c := &Config{Parallelism: cfg.Parallelism}
	if c.Parallelism < 1 {
		c.Parallelism = 8
	}
	return c
}
