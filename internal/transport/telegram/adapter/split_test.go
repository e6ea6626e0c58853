package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	got := SplitText("halo", 10, "")
	if len(got) != 1 || got[0] != "halo" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("a", 30)
	s := strings.Join([]string{line, line, line, line}, "\n")
	got := SplitText(s, 70, "")
	if len(got) != 2 {
		t.Fatalf("chunks=%d %q", len(got), got)
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 70 {
			t.Fatalf("chunk too long: %d", utf8.RuneCountInString(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has stray newline: %q", c)
		}
	}
	if strings.Join(got, "\n") != s {
		t.Fatalf("content lost")
	}
}

func TestSplitTextAvoidsHTMLTag(t *testing.T) {
	s := strings.Repeat("x", 18) + "<b>bold</b>" + strings.Repeat("y", 10)
	got := SplitText(s, 20, "HTML")
	if len(got) < 2 {
		t.Fatalf("expected split, got %q", got)
	}
	if strings.Contains(got[0], "<") {
		t.Fatalf("first chunk cut inside tag: %q", got[0])
	}
}

func TestSplitTextRunes(t *testing.T) {
	s := strings.Repeat("🔥", 25)
	got := SplitText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks=%d", len(got))
	}
	for _, c := range got {
		if !utf8.ValidString(c) {
			t.Fatalf("invalid utf8 chunk")
		}
	}
}
