// Package config handles configuration for the coordination engine.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete engine configuration
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

// ServiceConfig contains service-level settings
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains postgres connection settings. Disabled, the
// engine runs on the in-memory store.
type DatabaseConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Schema       string `mapstructure:"schema"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MigrationDir string `mapstructure:"migration_dir"`
}

// DSN builds the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}

// RedisConfig contains redis connection settings for locks and conflict
// signature caching. Disabled, both fall back to in-process equivalents.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	SignatureTTL time.Duration `mapstructure:"signature_ttl"`
}

// OracleConfig contains reasoning oracle settings
type OracleConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// NegotiationConfig bounds negotiation sessions
type NegotiationConfig struct {
	MaxRounds       int           `mapstructure:"max_rounds"`
	SessionBudget   time.Duration `mapstructure:"session_budget"`
	ReslotBuffer    time.Duration `mapstructure:"reslot_buffer"`
	RequireApproval bool          `mapstructure:"require_approval"`
}

// SchedulerConfig tunes admission control
type SchedulerConfig struct {
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	ProbeStep     time.Duration `mapstructure:"probe_step"`
	ProbeHorizon  int           `mapstructure:"probe_horizon"`
	AutoNegotiate bool          `mapstructure:"auto_negotiate"`
}

// NotifyConfig contains out-of-band notification settings
type NotifyConfig struct {
	SQSEnabled  bool   `mapstructure:"sqs_enabled"`
	SQSQueueURL string `mapstructure:"sqs_queue_url"`
}

// Load loads configuration from config files and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("concord")
	viper.SetConfigType("yaml")

	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/concord")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults and env vars carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("service.port", 8085)
	viper.SetDefault("service.log_level", "info")
	viper.SetDefault("service.shutdown_timeout", "30s")

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "concord_development")
	viper.SetDefault("database.username", "concord")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.schema", "concord")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.migration_dir", "migrations")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.signature_ttl", "1h")

	viper.SetDefault("oracle.enabled", false)
	viper.SetDefault("oracle.model", "gpt-4o-mini")
	viper.SetDefault("oracle.call_timeout", "30s")
	viper.SetDefault("oracle.max_retries", 3)
	viper.SetDefault("oracle.requests_per_second", 2)

	viper.SetDefault("negotiation.max_rounds", 4)
	viper.SetDefault("negotiation.session_budget", "10m")
	viper.SetDefault("negotiation.reslot_buffer", "15m")
	viper.SetDefault("negotiation.require_approval", false)

	viper.SetDefault("scheduler.lock_ttl", "30s")
	viper.SetDefault("scheduler.probe_step", "1h")
	viper.SetDefault("scheduler.probe_horizon", 48)
	viper.SetDefault("scheduler.auto_negotiate", true)

	viper.SetDefault("notify.sqs_enabled", false)
}

func bindEnvVars() {
	envBindings := map[string]string{
		"service.port":         "CONCORD_PORT",
		"service.log_level":    "CONCORD_LOG_LEVEL",
		"database.enabled":     "CONCORD_DATABASE_ENABLED",
		"database.host":        "CONCORD_DATABASE_HOST",
		"database.port":        "CONCORD_DATABASE_PORT",
		"database.database":    "CONCORD_DATABASE_NAME",
		"database.username":    "CONCORD_DATABASE_USER",
		"database.password":    "CONCORD_DATABASE_PASSWORD",
		"redis.enabled":        "CONCORD_REDIS_ENABLED",
		"redis.address":        "CONCORD_REDIS_ADDRESS",
		"redis.password":       "CONCORD_REDIS_PASSWORD",
		"oracle.enabled":       "CONCORD_ORACLE_ENABLED",
		"oracle.api_key":       "OPENAI_API_KEY",
		"oracle.model":         "CONCORD_ORACLE_MODEL",
		"notify.sqs_enabled":   "CONCORD_SQS_ENABLED",
		"notify.sqs_queue_url": "CONCORD_SQS_QUEUE_URL",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			// BindEnv only errors on an empty key.
			fmt.Fprintf(os.Stderr, "failed to bind %s: %v\n", key, err)
		}
	}
}

func validate(config *Config) error {
	if config.Service.Port <= 0 || config.Service.Port > 65535 {
		return fmt.Errorf("service.port %d out of range", config.Service.Port)
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when database is enabled")
	}
	if config.Redis.Enabled && config.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	if config.Oracle.Enabled && config.Oracle.APIKey == "" {
		return fmt.Errorf("oracle.api_key is required when the oracle is enabled")
	}
	if config.Negotiation.MaxRounds < 1 {
		return fmt.Errorf("negotiation.max_rounds must be at least 1")
	}
	if config.Notify.SQSEnabled && config.Notify.SQSQueueURL == "" {
		return fmt.Errorf("notify.sqs_queue_url is required when sqs is enabled")
	}
	return nil
}
