// internal/engine/event-intake/config.go
package eventintake

import (
	"time"

	"listing-alerts/internal/common/config"
)

type Config struct {
	Workers   int
	QueueSize int
	// EventTimeout bounds one event's trip through the pipeline; zero means
	// only the caller's context applies.
	EventTimeout time.Duration
	// LifecycleLimit caps how many properties have their last status tracked.
	LifecycleLimit int64
}

func LoadConfig(cfg config.IntakeConfig) *Config {
	c := &Config{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		EventTimeout:   config.GetDuration(cfg.EventTimeout),
		LifecycleLimit: int64(cfg.LifecycleLimit),
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.LifecycleLimit <= 0 {
		c.LifecycleLimit = 50000
	}
	return c
}
