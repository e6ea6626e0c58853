package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDuration marks a config duration that could not be parsed.
var ErrDuration = errors.New("invalid duration")

const day = 24 * time.Hour

// ParseDurationField parses a config duration such as "30m", "12h" or "1d".
// A leading whole-day count may be combined with the usual units ("1d12h").
// Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDays(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w %q (want e.g. 30m, 12h, 1d): %v", path, ErrDuration, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %w %q: must be >= 0", path, ErrDuration, raw)
	}
	return d, nil
}

func parseDays(s string) (time.Duration, error) {
	i := strings.IndexByte(s, 'd')
	if i <= 0 {
		return time.ParseDuration(s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, err
	}
	var rest time.Duration
	if tail := s[i+1:]; tail != "" {
		if rest, err = time.ParseDuration(tail); err != nil {
			return 0, err
		}
		if rest < 0 {
			return 0, errors.New("mixed signs")
		}
	}
	total := time.Duration(n) * day
	if n < 0 {
		return total - rest, nil
	}
	return total + rest, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for
// empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
