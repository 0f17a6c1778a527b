package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/luminabi/lumina/errors"
)

// Load reads the scheduler configuration using Viper. Search order:
// ./lumina.toml, then $XDG_CONFIG_HOME/lumina/lumina.toml. Environment
// variables override file values (LUMINA_SCHEDULER_WORKERS=8).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("lumina")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "lumina"))
	}

	v.SetEnvPrefix("LUMINA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine - defaults plus env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "lumina-scheduler.db")

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval_seconds", 10)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.poll_interval_seconds", 1)
	v.SetDefault("scheduler.lease_duration_seconds", 300) // renders can take minutes
	v.SetDefault("scheduler.heartbeat_interval_seconds", 30)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.retry_backoff_base_seconds", 30)
	v.SetDefault("scheduler.retry_backoff_cap_seconds", 1800)
	v.SetDefault("scheduler.task_timeout_seconds", 240) // self-abort before the lease expires
	v.SetDefault("scheduler.retention_days", 30)

	// Email defaults
	v.SetDefault("email.port", 587)
	v.SetDefault("email.from", "notifications@lumina.local")

	// Chat defaults
	v.SetDefault("chat.request_timeout_seconds", 30)
	v.SetDefault("chat.messages_per_minute", 30)

	// Sheets defaults
	v.SetDefault("sheets.request_timeout_seconds", 60)

	// Render service defaults
	v.SetDefault("render.request_timeout_seconds", 180)
}
