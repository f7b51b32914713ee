package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestForComponentFollowsSetup(t *testing.T) {
	log := ForComponent(CompTimer)

	var buf bytes.Buffer
	Setup("debug", &buf)
	defer Setup("info", os.Stderr)

	log.Debug("session_opened", slog.String("session", "s-1"))

	out := buf.String()
	if !strings.Contains(out, "component=timer") {
		t.Errorf("output = %q, want component attribute", out)
	}
	if !strings.Contains(out, "session=s-1") {
		t.Errorf("output = %q, want session attribute", out)
	}
}

func TestSetupFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup("warn", &buf)
	defer Setup("info", os.Stderr)

	ForComponent(CompStore).Info("ignored")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
