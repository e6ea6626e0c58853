package storage

import (
	"fmt"
	"strings"

	"hostwatch/internal/reminder"
)

const subscriptionColumns = `id, name, url, brand, expires_at, count_h3, count_h2, count_h1, count_h0,
	last_notified_at, last_notified_stage, archived, created_at`

// counterColumn returns the column holding st's counter. The result is
// always one of four fixed names and safe to splice into SQL.
func counterColumn(st reminder.Stage) (string, error) {
	switch st {
	case reminder.StageH3:
		return "count_h3", nil
	case reminder.StageH2:
		return "count_h2", nil
	case reminder.StageH1:
		return "count_h1", nil
	case reminder.StageH0:
		return "count_h0", nil
	default:
		return "", fmt.Errorf("%w: stage %q has no counter", ErrInvalid, st)
	}
}

const resetCounters = `count_h3 = 0, count_h2 = 0, count_h1 = 0, count_h0 = 0,
	last_notified_at = NULL, last_notified_stage = ''`

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
