package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "reminder"))
	log.Warn("send failed", Int64("sub_id", 7), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "reminder" || m["message"] != "send failed" || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["sub_id"] != float64(7) {
		t.Fatalf("sub_id=%v", m["sub_id"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered, got %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should not be enabled")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
}

func TestFormatTelegramJSON(t *testing.T) {
	line := `{"level":"warn","message":"sweep aborted","comp":"reminder","err":"db down","time":"x"}`
	got := formatTelegramJSON([]byte(line))
	want := "[WARN] sweep aborted\n- comp=reminder\n- err=db down"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if raw := formatTelegramJSON([]byte("  plain text \n")); raw != "plain text" {
		t.Fatalf("raw=%q", raw)
	}
	long := formatTelegramJSON([]byte(strings.Repeat("x", 5000)))
	if len(long) != telegramLogLimit {
		t.Fatalf("len=%d", len(long))
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "info", "WARN", "warning"} {
		if !ValidLevel(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatalf("loud should be invalid")
	}
}
