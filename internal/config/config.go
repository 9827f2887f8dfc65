// Package config provides configuration management for the crowdfund server and tools.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/prn-tf/crowdfund/internal/domain"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Funding  FundingConfig  `mapstructure:"funding"`
	Points   PointsConfig   `mapstructure:"points"`
	Closing  ClosingConfig  `mapstructure:"closing"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the listen address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`       // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// RedisConfig holds Redis connection settings.
// When enabled, aggregate locks are taken in Redis instead of in process memory.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// FundingConfig holds the defaults applied to newly created projects.
type FundingConfig struct {
	Factor             int     `mapstructure:"factor"`
	MinClosePercentage float64 `mapstructure:"min_close_percentage"`
	TargetFunds        int64   `mapstructure:"target_funds"`
}

// PointsConfig holds donor points settings.
type PointsConfig struct {
	// UnderflowPolicy decides what spending more points than available does:
	// "reject" fails the operation, "clamp" drains the balance to zero.
	UnderflowPolicy string `mapstructure:"underflow_policy"`
}

// Policy returns the parsed underflow policy.
func (c PointsConfig) Policy() domain.PointsPolicy {
	p, err := domain.ParsePointsPolicy(c.UnderflowPolicy)
	if err != nil {
		return domain.PointsReject
	}
	return p
}

// ClosingConfig holds the automatic project closing sweeper settings.
type ClosingConfig struct {
	// Enabled determines if the sweeper runs inside the server.
	Enabled bool `mapstructure:"enabled"`

	// Schedule is a cron expression or descriptor such as "@hourly".
	Schedule string `mapstructure:"schedule"`

	// BatchSize is the maximum number of projects evaluated per run.
	BatchSize int `mapstructure:"batch_size"`

	// LockTTL bounds how long one sweep may hold the sweep lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// CacheConfig holds read-model cache settings.
// The cache lives in Redis when redis.enabled is set, in process memory otherwise.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ProgressTTL bounds how stale a cached project progress view may be.
	ProgressTTL time.Duration `mapstructure:"progress_ttl"`

	// KeyPrefix is prepended to every Redis cache key.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with CROWDFUND_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CROWDFUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/crowdfund")
	}

	// Config file is optional; defaults and env vars are enough to run.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "crowdfund")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "crowdfund")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	// SQLite defaults
	v.SetDefault("database.path", "./data/crowdfund.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Funding defaults
	v.SetDefault("funding.factor", domain.DefaultFactor)
	v.SetDefault("funding.min_close_percentage", domain.DefaultMinClosePercentage)
	v.SetDefault("funding.target_funds", domain.DefaultTargetFunds)

	// Points defaults
	v.SetDefault("points.underflow_policy", string(domain.PointsReject))

	// Closing sweeper defaults
	v.SetDefault("closing.enabled", true)
	v.SetDefault("closing.schedule", "@hourly")
	v.SetDefault("closing.batch_size", 500)
	v.SetDefault("closing.lock_ttl", 10*time.Minute)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.progress_ttl", 30*time.Second)
	v.SetDefault("cache.key_prefix", "crowdfund:")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validDrivers := map[string]bool{"postgres": true, "sqlite": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite'")
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	} else if c.Database.Path == "" {
		return fmt.Errorf("database.path is required for sqlite driver")
	}

	if err := domain.AssertFactorInRange(c.Funding.Factor); err != nil {
		return fmt.Errorf("funding.factor: %w", err)
	}
	if err := domain.AssertPercentageInRange(c.Funding.MinClosePercentage); err != nil {
		return fmt.Errorf("funding.min_close_percentage: %w", err)
	}
	if err := domain.AssertTargetFunds(c.Funding.TargetFunds); err != nil {
		return fmt.Errorf("funding.target_funds: %w", err)
	}

	if _, err := domain.ParsePointsPolicy(c.Points.UnderflowPolicy); err != nil {
		return fmt.Errorf("points.underflow_policy: %w", err)
	}

	if c.Closing.Enabled {
		if _, err := cron.ParseStandard(c.Closing.Schedule); err != nil {
			return fmt.Errorf("closing.schedule: %w", err)
		}
		if c.Closing.BatchSize < 1 {
			return fmt.Errorf("closing.batch_size must be positive")
		}
	}

	if c.Cache.Enabled && c.Cache.ProgressTTL < 0 {
		return fmt.Errorf("cache.progress_ttl must not be negative")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
