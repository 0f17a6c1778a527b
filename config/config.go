// Package config loads scheduler configuration from file and environment.
package config

// Config represents the scheduler configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Email     EmailConfig     `mapstructure:"email"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Render    RenderConfig    `mapstructure:"render"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the dispatcher and worker pool
type SchedulerConfig struct {
	// Dispatcher tick: how often enabled schedules are evaluated for due
	// fire times. Schedule edits take effect within one tick.
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"`

	// Worker pool
	Workers             int `mapstructure:"workers"`              // Concurrent executors (default: 4)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // Base claim poll interval

	// Lease and retry policy. The lease must exceed the longest expected
	// task runtime plus margin; expiry is the only crash recovery path.
	LeaseDurationSeconds     int `mapstructure:"lease_duration_seconds"`
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	MaxAttempts              int `mapstructure:"max_attempts"`
	RetryBackoffBaseSeconds  int `mapstructure:"retry_backoff_base_seconds"`
	RetryBackoffCapSeconds   int `mapstructure:"retry_backoff_cap_seconds"`

	// Per-task soft timeout: tasks self-abort with a clear error before
	// the lease expires instead of relying on reclaim.
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"`

	// Terminal jobs older than this are removed by cleanup (0 = keep forever).
	RetentionDays int `mapstructure:"retention_days"`
}

// EmailConfig configures the SMTP delivery client
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// Base URL used for "open in Lumina" links embedded in messages.
	SiteURL string `mapstructure:"site_url"`
}

// ChatConfig configures the chat webhook delivery client
type ChatConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	// Outbound messages per minute across all channels; chat APIs throttle
	// aggressively and delivery storms hit every channel at once.
	MessagesPerMinute int `mapstructure:"messages_per_minute"`
}

// SheetsConfig configures the spreadsheet service client
type SheetsConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIToken              string `mapstructure:"api_token"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// RenderConfig configures the headless render service client, which
// produces the images and CSV exports jobs deliver.
type RenderConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIToken              string `mapstructure:"api_token"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}
