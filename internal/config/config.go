package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"chatthread/internal/constants"
	"chatthread/internal/models"
	"chatthread/internal/security"
	"chatthread/internal/validation"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingDBPath   = models.ConfigError{Message: "missing database path"}
	ErrMissingRedisURL = models.ConfigError{Message: "missing Redis URL"}
)

// LoadDotEnv loads environment variables from .env files when present. Values
// already in the environment win.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Default returns a configuration that needs no file: memory backend, default
// page size and port.
func Default() *models.Config {
	return &models.Config{
		Server: models.ServerConfig{
			Port:            constants.DefaultServerPort,
			ReadTimeoutSec:  constants.DefaultServerReadTimeoutSec,
			WriteTimeoutSec: constants.DefaultServerWriteTimeoutSec,
			IdleTimeoutSec:  constants.DefaultServerIdleTimeoutSec,
		},
		Backend: models.BackendConfig{
			Type:           constants.DefaultBackendType,
			PollIntervalMs: constants.DefaultBackendPollInterval,
		},
		Database: models.DatabaseConfig{Path: constants.DefaultDatabasePath},
		Thread:   models.ThreadConfig{PageSize: constants.DefaultPageSize},
		Retry: models.RetryConfig{
			InitialBackoffMs: constants.DefaultRetryBackoffMs,
			MaxBackoffMs:     constants.DefaultMaxBackoffMs,
			MaxAttempts:      constants.DefaultMaxAttempts,
		},
		Tracing: models.TracingConfig{
			ServiceName: constants.DefaultTracingServiceName,
			SampleRate:  constants.DefaultTracingSampleRate,
			UseStdout:   true,
		},
		LogLevel: constants.DefaultLogLevel,
	}
}

// LoadConfig reads a JSON configuration file, applies environment overrides
// and fills defaults.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, models.ConfigError{Message: fmt.Sprintf("invalid config file %s: %v", path, err)}
	}

	return finish(&config)
}

// FromEnvironment builds a configuration from defaults and environment
// overrides only.
func FromEnvironment() (*models.Config, error) {
	return finish(Default())
}

func finish(config *models.Config) (*models.Config, error) {
	applyEnvironmentOverrides(config)
	applyDefaults(config)

	if err := validate(config); err != nil {
		return nil, err
	}
	if err := validateSecurity(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(c *models.Config) {
	d := Default()

	if c.Server.Port <= 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = d.Server.ReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = d.Server.WriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = d.Server.IdleTimeoutSec
	}

	c.Backend.Type = strings.ToLower(strings.TrimSpace(c.Backend.Type))
	if c.Backend.Type == "" {
		c.Backend.Type = d.Backend.Type
	}
	if c.Backend.PollIntervalMs <= 0 {
		c.Backend.PollIntervalMs = d.Backend.PollIntervalMs
	}
	if c.Thread.PageSize <= 0 {
		c.Thread.PageSize = d.Thread.PageSize
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = d.Retry.InitialBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = d.Retry.MaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = d.Tracing.SampleRate
	}

	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

func validate(c *models.Config) error {
	switch c.Backend.Type {
	case models.BackendMemory:
	case models.BackendSQLite:
		if c.Database.Path == "" {
			return ErrMissingDBPath
		}
	case models.BackendRedis:
		if c.Backend.RedisURL == "" {
			return ErrMissingRedisURL
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unsupported backend type: %s", c.Backend.Type)}
	}

	if err := validation.ValidatePageSize(c.Thread.PageSize); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid thread config: %v", err)}
	}
	for name, sec := range map[string]int{
		"server readTimeoutSec":  c.Server.ReadTimeoutSec,
		"server writeTimeoutSec": c.Server.WriteTimeoutSec,
		"server idleTimeoutSec":  c.Server.IdleTimeoutSec,
	} {
		if err := validation.ValidateTimeout(sec, name); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid server config: %v", err)}
		}
	}

	if c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	if c.Retry.InitialBackoffMs > c.Retry.MaxBackoffMs {
		return models.ConfigError{Message: "retry initialBackoffMs must not exceed maxBackoffMs"}
	}
	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample_rate must be between 0 and 1"}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log level: %s", c.LogLevel)}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if backend := os.Getenv("CHATTHREAD_BACKEND"); backend != "" {
		c.Backend.Type = backend
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Backend.RedisURL = url
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// validateSecurity performs production-only checks
func validateSecurity(c *models.Config) error {
	if os.Getenv("CHATTHREAD_ENV") != "production" {
		return nil
	}

	if c.LogLevel == "debug" || c.LogLevel == "trace" {
		return models.ConfigError{Message: "debug logging should not be used in production (message bodies are logged)"}
	}
	if c.Backend.Type == models.BackendSQLite && os.Getenv("CHATTHREAD_ENABLE_ENCRYPTION") != "true" {
		fmt.Fprintf(os.Stderr, "WARNING: SQLite backend without encryption. Set CHATTHREAD_ENABLE_ENCRYPTION=true and CHATTHREAD_ENCRYPTION_SECRET.\n")
	}
	return nil
}
