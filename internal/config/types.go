package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "10m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	TaskEngine    *TaskEngineConfig   `json:"task_engine,omitempty"`
	Notifier      *NotifierConfig     `json:"notifier,omitempty"`
	Storage       StorageConfig       `json:"storage"`
	Reminder      ReminderConfig      `json:"reminder"`
	Digest        DigestConfig        `json:"digest"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives reminders and digests. Overridden by TELEGRAM_CHAT_ID.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
	// GroupLog is "<chat_id>" or "<chat_id>:<thread_id>" for the log sink.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // default: Asia/Jakarta
}

// TaskEngineConfig controls execution of scheduled and manual tasks.
//
// Defaults: workers 2, queue_size 64, default_timeout "0s" (none),
// history_size 100, retry_max 0.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifierConfig controls the outbound message pipeline.
// If the section is omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// StorageConfig selects the subscription store.
//
//	"storage": { "driver": "sqlite", "path": "./data/hostwatch.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
//
// DATABASE_URL overrides dsn and implies driver=postgres when driver is empty.
type StorageConfig struct {
	Driver          string `json:"driver"`
	Path            string `json:"path,omitempty"`
	DSN             string `json:"dsn,omitempty"`
	BusyTimeout     string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns        int32  `json:"max_conns,omitempty"`    // postgres
	ConnectAttempts int    `json:"connect_attempts,omitempty"`
}

// ReminderConfig controls the reminder sweep.
type ReminderConfig struct {
	Enabled              bool   `json:"enabled"`
	Interval             string `json:"interval,omitempty"`               // default: "10m"
	RenewalThresholdDays int    `json:"renewal_threshold_days,omitempty"` // default: 20
	// Spacing gates repeat sends within one stage by the cadence spacing.
	// Nil means enabled.
	Spacing     *bool  `json:"spacing,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"` // default: "20s"
	// MaxAttempts overrides per-stage caps, keyed by h3/h2/h1/h0.
	MaxAttempts map[string]int `json:"max_attempts,omitempty"`
}

// DigestConfig controls the daily full-list message.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	At       string `json:"at,omitempty"`        // "HH:MM", default "09:00"
	MaxChars int    `json:"max_chars,omitempty"` // default 3500
	Title    string `json:"title,omitempty"`     // default "Our Hosting List"
}

// ObservabilityConfig controls the HTTP endpoint for /healthz, /metrics and pprof.
//
// Prefer binding to localhost. A non-loopback address needs a token
// unless allow_insecure is set.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// SpacingEnabled resolves the nil default.
func (r ReminderConfig) SpacingEnabled() bool {
	return r.Spacing == nil || *r.Spacing
}
