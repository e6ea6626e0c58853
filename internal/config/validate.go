package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	logx "hostwatch/pkg/logx"
)

// DefaultTimezone is used when scheduler.timezone is empty.
const DefaultTimezone = "Asia/Jakarta"

// Validate performs static checks shared by startup and hot reload.
// Component-specific mapping (durations into services) repeats some of these
// on purpose so a bad reload is rejected before anything is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvBotToken))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if _, _, err := ParseChatTarget(cfg.Telegram.GroupLog); err != nil {
		add(fmt.Errorf("telegram.group_log: %w", err))
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if _, err := LoadLocation(cfg.Scheduler.Timezone); err != nil {
		add(err)
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			add(errors.New("task_engine: workers, queue_size, history_size and retry_max must be >= 0"))
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
	}
	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add(errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
		}
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.send_timeout", n.SendTimeout)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn is required for postgres (or set %s)", EnvDatabaseURL))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	r := cfg.Reminder
	dur("reminder.interval", r.Interval)
	dur("reminder.send_timeout", r.SendTimeout)
	if r.RenewalThresholdDays != 0 && r.RenewalThresholdDays < 4 {
		add(errors.New("reminder.renewal_threshold_days must be >= 4"))
	}
	for k, v := range r.MaxAttempts {
		switch strings.ToLower(k) {
		case "h3", "h2", "h1", "h0":
		default:
			add(fmt.Errorf("reminder.max_attempts: unknown stage %q", k))
		}
		if v < 1 || v > 20 {
			add(fmt.Errorf("reminder.max_attempts.%s must be within 1..20", k))
		}
	}

	if at := strings.TrimSpace(cfg.Digest.At); at != "" {
		if _, err := time.Parse("15:04", at); err != nil {
			add(fmt.Errorf("digest.at: invalid %q (want HH:MM)", at))
		}
	}
	if cfg.Digest.MaxChars < 0 || (cfg.Digest.MaxChars > 0 && cfg.Digest.MaxChars < 500) {
		add(errors.New("digest.max_chars must be 0 (default) or >= 500"))
	}

	dur("observability.read_timeout", cfg.Observability.ReadTimeout)
	dur("observability.idle_timeout", cfg.Observability.IdleTimeout)

	return errors.Join(errs...)
}

// LoadLocation resolves a timezone name, defaulting to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	tz := strings.TrimSpace(name)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}
