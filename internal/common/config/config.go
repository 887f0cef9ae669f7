// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Engine        EngineConfig       `mapstructure:"engine"`
	Dispatcher    DispatcherConfig   `mapstructure:"dispatcher"`
	Intake        IntakeConfig       `mapstructure:"intake"`
	Catalog       CatalogConfig      `mapstructure:"catalog"`
	Database      DatabaseConfig     `mapstructure:"database"`
	RabbitMQ      RabbitMQConfig     `mapstructure:"rabbitmq"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// EngineConfig controls how saved searches are evaluated against one property.
type EngineConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// DispatcherConfig controls alert gating and suppression.
type DispatcherConfig struct {
	SuppressionWindow    int    `mapstructure:"suppression_window"`  // milliseconds
	SuppressionBackend   string `mapstructure:"suppression_backend"` // memory | redis
	AlertOnPriceIncrease bool   `mapstructure:"alert_on_price_increase"`
	CacheMaxSize         int64  `mapstructure:"cache_max_size"`
}

// SuppressionWindowDuration returns the suppression window as a duration.
func (d DispatcherConfig) SuppressionWindowDuration() time.Duration {
	return GetDuration(d.SuppressionWindow)
}

// IntakeConfig sizes the per-property worker pool.
type IntakeConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueSize      int `mapstructure:"queue_size"`
	EventTimeout   int `mapstructure:"event_timeout"` // milliseconds
	LifecycleLimit int `mapstructure:"lifecycle_limit"`
}

// CatalogConfig controls the saved-search catalog refresh.
type CatalogConfig struct {
	RefreshSchedule string `mapstructure:"refresh_schedule"`
	LoadTimeout     int    `mapstructure:"load_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RabbitMQConfig describes the event source and the job sink exchanges.
type RabbitMQConfig struct {
	URL           string `mapstructure:"url"`
	EventExchange string `mapstructure:"event_exchange"`
	EventQueue    string `mapstructure:"event_queue"`
	EventBinding  string `mapstructure:"event_binding"`
	JobExchange   string `mapstructure:"job_exchange"`
	JobRouting    string `mapstructure:"job_routing"`
	Prefetch      int    `mapstructure:"prefetch"`
	ConsumerTag   string `mapstructure:"consumer_tag"`
}

// NotificationConfig selects where emitted jobs go.
type NotificationConfig struct {
	Sink string `mapstructure:"sink"` // rabbitmq | aws
	AWS  struct {
		Region       string `mapstructure:"region"`
		FromEmail    string `mapstructure:"from_email"`
		PushTopicARN string `mapstructure:"push_topic_arn"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}
