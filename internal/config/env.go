package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables that override file values. Secrets usually live here.
const (
	EnvBotToken    = "TELEGRAM_BOT_TOKEN"
	EnvChatID      = "TELEGRAM_CHAT_ID"
	EnvDatabaseURL = "DATABASE_URL"
	EnvTimezone    = "HOSTWATCH_TZ"
)

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBotToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvChatID); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChatID, err)
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := lookup(EnvDatabaseURL); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.DSN = strings.TrimSpace(v)
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v, ok := lookup(EnvTimezone); ok && strings.TrimSpace(v) != "" {
		cfg.Scheduler.Timezone = strings.TrimSpace(v)
	}
	return nil
}

// ParseChatTarget parses "<chat_id>" or "<chat_id>:<thread_id>".
func ParseChatTarget(raw string) (chatID int64, threadID int, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, 0, nil
	}
	idPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q: %w", idPart, err)
	}
	if hasThread {
		threadID, err = strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid thread id %q: %w", threadPart, err)
		}
	}
	return chatID, threadID, nil
}
