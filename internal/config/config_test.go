package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/notion"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timetrack.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != time.Second {
		t.Errorf("TickInterval = %s, want 1s", cfg.TickInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Notion.BaseURL != notion.DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.Notion.BaseURL)
	}
	if cfg.Notion.Timeout != 15*time.Second {
		t.Errorf("Timeout = %s, want 15s", cfg.Notion.Timeout)
	}
	if !strings.HasSuffix(cfg.DBPath, filepath.Join("timetrack", "timetrack.sqlite")) {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
socket_path: /tmp/tt.sock
tick_interval: 250ms
log_level: debug
notion:
  base_url: http://localhost:9999/v1
  timeout: 2s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != "/tmp/tt.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.TickInterval != 250*time.Millisecond {
		t.Errorf("TickInterval = %s", cfg.TickInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Notion.BaseURL != "http://localhost:9999/v1" || cfg.Notion.Timeout != 2*time.Second {
		t.Errorf("Notion = %+v", cfg.Notion)
	}
	if cfg.Notion.Version != notion.DefaultVersion {
		t.Errorf("Version = %q, want default", cfg.Notion.Version)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")
	t.Setenv("TIMETRACK_LOG_LEVEL", "error")
	t.Setenv("TIMETRACK_NOTION_BASE_URL", "http://env.example/v1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error", cfg.LogLevel)
	}
	if cfg.Notion.BaseURL != "http://env.example/v1" {
		t.Errorf("BaseURL = %q", cfg.Notion.BaseURL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadRejectsBadTick(t *testing.T) {
	path := writeConfig(t, "tick_interval: 0s\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for zero tick_interval")
	}
}
