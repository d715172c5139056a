package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"      validate:"required"`
	Task      TaskConfig      `mapstructure:"task"      validate:"required"`
	Processor ProcessorConfig `mapstructure:"processor" validate:"required"`
	Quota     QuotaConfig     `mapstructure:"quota"     validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains all authentication-related settings. Token issuance is
// owned by the external identity service; this service only verifies bearer
// tokens signed with the shared secret.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// TaskConfig contains the dispatcher's worker pool and recovery settings.
type TaskConfig struct {
	// WorkerCount bounds concurrent external-processor invocations.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// QueueSize is the buffer size of the in-memory dispatch queue.
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`

	// ProcessTimeoutSeconds caps a single external-processor call.
	ProcessTimeoutSeconds int `mapstructure:"process_timeout_seconds" validate:"required,gt=0"`

	// StuckTaskAgeMinutes is how long a task may sit in processing before
	// the monitor resets it to pending.
	StuckTaskAgeMinutes int `mapstructure:"stuck_task_age_minutes" validate:"required,gt=0"`
}

// ProcessorConfig contains settings for the Gemini-backed image processor.
type ProcessorConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName         string `mapstructure:"model_name"     validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"        validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// QuotaConfig contains the quota-reset policy settings.
type QuotaConfig struct {
	// ResetPeriodDays is how far ResetAt is advanced when a row is reset.
	ResetPeriodDays int `mapstructure:"reset_period_days" validate:"required,gt=0"`

	// ResetCheckCron is the cron expression for the reset sweep.
	ResetCheckCron string `mapstructure:"reset_check_cron" validate:"required"`
}

// RedisConfig contains settings for the optional status read cache.
// An empty Addr disables the cache entirely.
type RedisConfig struct {
	Addr              string `mapstructure:"addr"`
	StatusCacheTTLSec int    `mapstructure:"status_cache_ttl_seconds" validate:"gte=0"`
}
