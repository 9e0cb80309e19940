package config

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Storage    StorageConfig    `json:"storage"`
	Debug      DebugConfig      `json:"debug,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through REMINDBOT_TELEGRAM_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout    string `json:"poll_timeout,omitempty"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`
	// Workers is the number of concurrent command handlers.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingTelegram forwards warnings and errors to a chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the job table and time interpretation.
//
// Timezone is the zone cron expressions run in. DefaultUserTimezone is used
// for users who never set one. Both default to UTC.
type SchedulerConfig struct {
	Timezone            string `json:"timezone,omitempty"`
	DefaultUserTimezone string `json:"default_user_timezone,omitempty"`
	// FireTimeout bounds a single delivery. Empty uses the task engine default.
	FireTimeout string `json:"fire_timeout,omitempty"`
	// TimezoneCacheTTL is how long a user's zone is cached (default "10m", "1d" style day counts allowed).
	TimezoneCacheTTL string `json:"timezone_cache_ttl,omitempty"`
}

// TaskEngineConfig controls the queue that runs job fires.
//
// Defaults (when fields are omitted/zero):
//   - queue_size: 256
//   - default_timeout: "30s"
//   - history_size: 200
type TaskEngineConfig struct {
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/remindbot.db" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// DSN may be supplied through REMINDBOT_STORAGE_DSN instead.
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the profiling and metrics listener.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - A non-loopback address needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 so /profile can run for its full duration.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
