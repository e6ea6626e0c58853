package app

import (
	"fmt"
	"strings"
	"time"

	"hostwatch/internal/config"
	"hostwatch/internal/notifier"
	"hostwatch/internal/observability"
	"hostwatch/internal/reminder"
	"hostwatch/internal/storage"
	"hostwatch/internal/task/engine"
	"hostwatch/internal/task/scheduler"
	logx "hostwatch/pkg/logx"
)

const (
	defaultPollTimeout     = 10 * time.Second
	defaultSweepInterval   = "10m"
	defaultDigestAt        = "09:00"
	defaultSendTimeout     = 20 * time.Second
	defaultSQLitePath      = "./data/hostwatch.db"
	defaultBusyTimeout     = 5 * time.Second
	defaultRetryBase       = 500 * time.Millisecond
	defaultRetryMaxDelay   = 10 * time.Second
	defaultNotifierQueue   = 256
	defaultNotifierWorkers = 1
	defaultNotifierRate    = 1
	defaultNotifierRetries = 3
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget resolves the log chat. logging.telegram.thread_id wins over a
// thread given in telegram.group_log.
func logTarget(cfg *config.Config) (chatID int64, threadID int) {
	chatID, threadID, err := config.ParseChatTarget(cfg.Telegram.GroupLog)
	if err != nil {
		return 0, 0
	}
	if cfg.Logging.Telegram.ThreadID != 0 {
		threadID = cfg.Logging.Telegram.ThreadID
	}
	return chatID, threadID
}

// mapTaskEngineConfig maps task_engine. The engine always runs: manual
// /remind and /digest need it even with the scheduler off.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	out.Workers = te.Workers
	out.QueueSize = te.QueueSize
	out.HistorySize = te.HistorySize
	out.RetryMax = te.RetryMax
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = config.DefaultTimezone
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:       true,
		Workers:       defaultNotifierWorkers,
		QueueSize:     defaultNotifierQueue,
		RatePerSec:    defaultNotifierRate,
		RetryMax:      defaultNotifierRetries,
		RetryBase:     defaultRetryBase,
		RetryMaxDelay: defaultRetryMaxDelay,
		SendTimeout:   defaultSendTimeout,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.Enabled = n.Enabled
	if n.Workers > 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax > 0 {
		out.RetryMax = n.RetryMax
	}
	out.HistorySize = n.HistorySize

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, defaultRetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, defaultRetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, defaultSendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay < out.RetryBase {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max_delay must be >= notifier.retry_base")
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultSQLitePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required for postgres (or set %s)", config.EnvDatabaseURL)
		}
		return storage.Config{
			Driver:          "postgres",
			DSN:             dsn,
			MaxConns:        sc.MaxConns,
			ConnectAttempts: sc.ConnectAttempts,
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (reminder.EngineConfig, error) {
	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return reminder.EngineConfig{}, err
	}
	send, err := config.ParseDurationOrDefault("reminder.send_timeout", cfg.Reminder.SendTimeout, defaultSendTimeout)
	if err != nil {
		return reminder.EngineConfig{}, err
	}
	cadence := reminder.DefaultCadence()
	for k, n := range cfg.Reminder.MaxAttempts {
		st := reminder.ParseStage(strings.ToLower(strings.TrimSpace(k)))
		if !st.IsBucket() {
			return reminder.EngineConfig{}, fmt.Errorf("reminder.max_attempts: unknown stage %q", k)
		}
		cadence = cadence.WithMax(st, n)
	}
	threshold := cfg.Reminder.RenewalThresholdDays
	if threshold == 0 {
		threshold = reminder.DefaultRenewalThreshold
	}
	return reminder.EngineConfig{
		Location:         loc,
		RenewalThreshold: threshold,
		Cadence:          cadence,
		Spacing:          cfg.Reminder.SpacingEnabled(),
		SendTimeout:      send,
	}, nil
}

func mapDigestConfig(cfg *config.Config) (reminder.DigestConfig, error) {
	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return reminder.DigestConfig{}, err
	}
	return reminder.DigestConfig{
		Title:    cfg.Digest.Title,
		MaxChars: cfg.Digest.MaxChars,
		Location: loc,
	}, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	o := cfg.Observability
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		addr = observability.DefaultAddr
	}
	rt, err := config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 5*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   rt,
		IdleTimeout:   it,
	}, nil
}

// jobPlan is what the scheduler should carry for the current config.
type jobPlan struct {
	Sweep    bool
	Interval string
	Digest   bool
	DigestAt string
}

func mapJobs(cfg *config.Config) jobPlan {
	p := jobPlan{
		Sweep:    cfg.Reminder.Enabled,
		Interval: strings.TrimSpace(cfg.Reminder.Interval),
		Digest:   cfg.Digest.Enabled,
		DigestAt: strings.TrimSpace(cfg.Digest.At),
	}
	if p.Interval == "" {
		p.Interval = defaultSweepInterval
	}
	if p.DigestAt == "" {
		p.DigestAt = defaultDigestAt
	}
	return p
}

// validate runs static checks plus every mapper so a reload that would
// fail later is rejected up front.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapObservabilityConfig(cfg); err != nil {
		return err
	}
	if _, err := scheduler.ParseSchedule(mapJobs(cfg).Interval); err != nil {
		return fmt.Errorf("reminder.interval: %w", err)
	}
	return nil
}
