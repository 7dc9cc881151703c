package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Scraper     ScraperConfig   `toml:"scraper"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SchedulerConfig controls the scrape scheduling loop.
type SchedulerConfig struct {
	DefaultFrequency    string        `toml:"default_frequency"`     // Fallback when a source omits one: DAILY, WEEKLY, MONTHLY
	MaxConcurrentJobs   int           `toml:"max_concurrent_jobs"`   // Global ceiling across all sources
	RetryAttempts       int           `toml:"retry_attempts"`        // Automatic re-enqueues of a FAILED job
	RetryBackoff        time.Duration `toml:"retry_backoff"`         // Fixed delay before an automatic retry
	HealthCheckInterval time.Duration `toml:"health_check_interval"` // Tick period of the due-source check
	StaleAfter          time.Duration `toml:"stale_after"`           // RUNNING jobs older than this are marked FAILED
	FailCountCeiling    int           `toml:"fail_count_ceiling"`    // Consecutive failures before a source auto-transitions to ERROR
}

// ScraperConfig controls the default fetch/extract executor.
type ScraperConfig struct {
	UserAgent      string        `toml:"user_agent"`       // User agent sent with fetch requests
	RequestTimeout time.Duration `toml:"request_timeout"`  // HTTP request timeout
	JobTimeout     time.Duration `toml:"job_timeout"`      // Upper bound on one orchestrator run
	MaxBodySize    int           `toml:"max_body_size"`    // Maximum response body size in bytes
	MaxContentSize int           `toml:"max_content_size"` // Extraction size budget; larger documents are chunked
	RateLimit      time.Duration `toml:"rate_limit"`       // Minimum delay between requests to the same host
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in grantscout.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Scheduler: SchedulerConfig{
			DefaultFrequency:    "WEEKLY",
			MaxConcurrentJobs:   4,
			RetryAttempts:       2,
			RetryBackoff:        30 * time.Second,
			HealthCheckInterval: time.Minute,
			StaleAfter:          30 * time.Minute,
			FailCountCeiling:    5,
		},
		Scraper: ScraperConfig{
			UserAgent:      "grantscout/" + Version,
			RequestTimeout: 30 * time.Second,
			JobTimeout:     5 * time.Minute,
			MaxBodySize:    10 * 1024 * 1024,
			MaxContentSize: 32000,
			RateLimit:      time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with precedence:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier ones. Missing files are an error; an empty
// path list returns defaults plus env overrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies GRANTSCOUT_* environment variables on top of
// the file configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("GRANTSCOUT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("GRANTSCOUT_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("GRANTSCOUT_DATA_DIR"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("GRANTSCOUT_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("GRANTSCOUT_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Scheduler.MaxConcurrentJobs = n
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
// Zero values leave the config untouched.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Scheduler.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1")
	}
	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be non-negative")
	}
	if c.Scheduler.FailCountCeiling < 1 {
		return fmt.Errorf("fail_count_ceiling must be at least 1")
	}
	if c.Scraper.MaxContentSize < 1 {
		return fmt.Errorf("max_content_size must be positive")
	}
	switch c.Scheduler.DefaultFrequency {
	case "DAILY", "WEEKLY", "MONTHLY":
	default:
		return fmt.Errorf("invalid default_frequency: %s", c.Scheduler.DefaultFrequency)
	}
	return nil
}
