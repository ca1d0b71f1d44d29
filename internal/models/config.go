package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Backend  BackendConfig  `json:"backend" mapstructure:"backend"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Thread   ThreadConfig   `json:"thread" mapstructure:"thread"`
	Retry    RetryConfig    `json:"retry" mapstructure:"retry"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	LogLevel string         `json:"log_level" mapstructure:"log_level"`
}

// ServerConfig holds HTTP adapter settings
type ServerConfig struct {
	Port            int  `json:"port"`
	ReadTimeoutSec  int  `json:"readTimeoutSec"`
	WriteTimeoutSec int  `json:"writeTimeoutSec"`
	IdleTimeoutSec  int  `json:"idleTimeoutSec"`
	TrustProxy      bool `json:"trustProxy"`
}

// Supported backend types
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// BackendConfig selects and configures the realtime message store
type BackendConfig struct {
	Type           string `json:"type" mapstructure:"type"`
	RedisURL       string `json:"redis_url" mapstructure:"redis_url"`
	PollIntervalMs int    `json:"pollIntervalMs" mapstructure:"pollIntervalMs"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ThreadConfig holds message thread settings
type ThreadConfig struct {
	PageSize int `json:"pageSize"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
