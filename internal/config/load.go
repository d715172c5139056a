package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables read by Load,
// e.g. PIXELSTUDIO_SERVER_PORT, PIXELSTUDIO_DATABASE_URL.
const envPrefix = "PIXELSTUDIO"

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config.yaml in the working directory; a missing file is
	// fine, everything can come from the environment.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for every optional setting. Secrets
// (database URL, JWT secret, API key) intentionally have no defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.process_timeout_seconds", 120)
	v.SetDefault("task.stuck_task_age_minutes", 30)

	v.SetDefault("processor.model_name", "gemini-2.0-flash")
	v.SetDefault("processor.max_retries", 3)
	v.SetDefault("processor.retry_delay_seconds", 2)

	v.SetDefault("quota.reset_period_days", 30)
	v.SetDefault("quota.reset_check_cron", "@hourly")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.status_cache_ttl_seconds", 30)

	// Explicit empty defaults so AutomaticEnv picks the keys up without a
	// config file present.
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("processor.gemini_api_key", "")
}
