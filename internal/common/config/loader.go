// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, the environment specific overlay
// (config.<APP_ENVIRONMENT>.yaml) and environment variables.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	// An explicit zero window turns suppression off.
	if v.IsSet("dispatcher.suppression_window") && v.GetInt("dispatcher.suppression_window") == 0 {
		cfg.Dispatcher.SuppressionWindow = 0
	}
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders left in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets commonly injected under short env names.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.RabbitMQ.URL == "" {
		cfg.RabbitMQ.URL = os.Getenv("RABBITMQ_URL")
	}
	if cfg.Database.Redis.Password == "" {
		cfg.Database.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "listing-alerts"
	}

	if cfg.Engine.Parallelism == 0 {
		cfg.Engine.Parallelism = 8
	}

	if cfg.Dispatcher.SuppressionWindow == 0 {
		cfg.Dispatcher.SuppressionWindow = int((24 * time.Hour).Milliseconds())
	}
	if cfg.Dispatcher.SuppressionBackend == "" {
		cfg.Dispatcher.SuppressionBackend = "memory"
	}
	if cfg.Dispatcher.CacheMaxSize == 0 {
		cfg.Dispatcher.CacheMaxSize = 100000
	}

	if cfg.Intake.Workers == 0 {
		cfg.Intake.Workers = 4
	}
	if cfg.Intake.QueueSize == 0 {
		cfg.Intake.QueueSize = 64
	}
	if cfg.Intake.EventTimeout == 0 {
		cfg.Intake.EventTimeout = 30000
	}
	if cfg.Intake.LifecycleLimit == 0 {
		cfg.Intake.LifecycleLimit = 50000
	}

	if cfg.Catalog.RefreshSchedule == "" {
		cfg.Catalog.RefreshSchedule = "@every 1m"
	}
	if cfg.Catalog.LoadTimeout == 0 {
		cfg.Catalog.LoadTimeout = 10000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.RabbitMQ.EventExchange == "" {
		cfg.RabbitMQ.EventExchange = "property.events"
	}
	if cfg.RabbitMQ.EventQueue == "" {
		cfg.RabbitMQ.EventQueue = "listing-alerts.property-changes"
	}
	if cfg.RabbitMQ.EventBinding == "" {
		cfg.RabbitMQ.EventBinding = "property.#"
	}
	if cfg.RabbitMQ.JobExchange == "" {
		cfg.RabbitMQ.JobExchange = "notifications"
	}
	if cfg.RabbitMQ.JobRouting == "" {
		cfg.RabbitMQ.JobRouting = "notification.job"
	}
	if cfg.RabbitMQ.Prefetch == 0 {
		cfg.RabbitMQ.Prefetch = 32
	}
	if cfg.RabbitMQ.ConsumerTag == "" {
		cfg.RabbitMQ.ConsumerTag = cfg.App.Name
	}

	if cfg.Notifications.Sink == "" {
		cfg.Notifications.Sink = "rabbitmq"
	}
	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = "us-east-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	switch cfg.Dispatcher.SuppressionBackend {
	case "memory":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis suppression backend")
		}
	default:
		return fmt.Errorf("dispatcher.suppression_backend must be memory or redis, got %q", cfg.Dispatcher.SuppressionBackend)
	}
	if cfg.Dispatcher.SuppressionWindow < 0 {
		return fmt.Errorf("dispatcher.suppression_window must not be negative")
	}

	if cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq.url is required")
	}

	switch cfg.Notifications.Sink {
	case "rabbitmq":
	case "aws":
		if cfg.Notifications.AWS.FromEmail == "" {
			return fmt.Errorf("notifications.aws.from_email is required for the aws sink")
		}
	default:
		return fmt.Errorf("notifications.sink must be rabbitmq or aws, got %q", cfg.Notifications.Sink)
	}

	if cfg.Engine.Parallelism < 1 {
		return fmt.Errorf("engine.parallelism must be positive")
	}
	if cfg.Intake.Workers < 1 {
		return fmt.Errorf("intake.workers must be positive")
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
