// Package config loads the YAML-plus-environment configuration the
// teacher's config package used, generalized from a RabbitMQ-backed job
// runner to the Redis-backed, multi-vendor dispatch stack.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number.
	MinPort = 1
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Vendors   []VendorConfig  `yaml:"vendors"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	APIBaseURL      string        `yaml:"api_base_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration, shared by the job
// queue and the status cache against distinct key namespaces.
type RedisConfig struct {
	Addr             string        `yaml:"addr"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	PoolSize         int           `yaml:"pool_size"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Stream           string        `yaml:"stream"`
	ConsumerGroup    string        `yaml:"consumer_group"`
	VisibilityWindow time.Duration `yaml:"visibility_window"`
}

// VendorConfig describes one external vendor entry, matching spec §3's
// process-scoped, read-only VendorConfig.
type VendorConfig struct {
	Name               string        `yaml:"name"`
	URL                string        `yaml:"url"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	IsAsync            bool          `yaml:"is_async"`
	Timeout            time.Duration `yaml:"timeout"`
}

// BreakerConfig holds the default circuit breaker thresholds applied to
// every configured vendor.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"`
	MinimumRequests  int           `yaml:"minimum_requests"`
}

// SweeperConfig holds the timeout sweeper's cadence and deadline.
type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	ScanLimit  int           `yaml:"scan_limit"`
}

// RetentionConfig holds the cadence and cutoff for purging terminal jobs
// from the store, per spec's 30-day TTL note.
type RetentionConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata.
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration.
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	BatchSize       int64         `yaml:"batch_size"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the configuration sections the API service
// depends on.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if c.Server.APIBaseURL == "" {
		return fmt.Errorf("server api_base_url is required")
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	return c.validateVendors()
}

// ValidateWorkerConfig checks the configuration sections the worker service
// depends on.
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if c.Worker.PollTimeout <= 0 {
		return fmt.Errorf("worker poll_timeout must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	return c.validateVendors()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.Redis.Stream == "" {
		return fmt.Errorf("redis stream is required")
	}
	if c.Redis.ConsumerGroup == "" {
		return fmt.Errorf("redis consumer_group is required")
	}
	return nil
}

func (c *Config) validateVendors() error {
	if len(c.Vendors) == 0 {
		return fmt.Errorf("at least one vendor must be configured")
	}
	seen := make(map[string]bool, len(c.Vendors))
	for _, v := range c.Vendors {
		if v.Name == "" {
			return fmt.Errorf("vendor name is required")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate vendor name: %s", v.Name)
		}
		seen[v.Name] = true
		if v.URL == "" {
			return fmt.Errorf("vendor %s: url is required", v.Name)
		}
		if v.RateLimitPerMinute <= 0 {
			return fmt.Errorf("vendor %s: rate_limit_per_minute must be greater than 0", v.Name)
		}
		if v.Timeout <= 0 {
			return fmt.Errorf("vendor %s: timeout must be greater than 0", v.Name)
		}
	}
	return nil
}
