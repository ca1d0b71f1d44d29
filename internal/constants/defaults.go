package constants

// Backend layout
const (
	ChatAppPath   = "chat_app"
	ChatRoomsPath = "chat_rooms"
)

// Default thread configuration values
const (
	DefaultPageSize             = 14
	DefaultBackendPollInterval  = 500
	DefaultSubscriptionBuffer   = 64
	DefaultRetryBackoffMs       = 1000
	DefaultMaxBackoffMs         = 60000
	DefaultMaxAttempts          = 5
	DefaultServerPort           = 8082
	DefaultDatabasePath         = "chatthread.db"
	DefaultBackendType          = "memory"
	DefaultLogLevel             = "info"
	DefaultTracingServiceName   = "chatthread"
	DefaultTracingSampleRate    = 0.1
	DefaultStreamWriteTimeoutMs = 5000
)

// Default timeout values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultBackendRetryAttempts  = 5
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	ServerErrorChannelSize       = 1
)

// Encryption settings
const (
	EncryptionSalt = "chatthread-record-encryption-v1"
)

// Request and validation limits
const (
	MaxMessageBodyBytes = 64 * 1024
	MaxMessageTextRunes = 4096
	MaxPageSize         = 500
	MaxTimeoutSec       = 3600
)

// Circuit breaker settings for remote backends
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerCooldownSec = 30
	DefaultBreakerProbes      = 3
)
