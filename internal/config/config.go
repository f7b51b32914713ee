// Package config loads process configuration: where the daemon listens, where
// state is stored, logging, and how the remote store is reached. Timer
// settings (credential, database ids) are not here; they live in the store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TomFrankly/notion-time-tracker/internal/daemon"
	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

// EnvPrefix prefixes environment overrides, e.g. TIMETRACK_LOG_LEVEL or
// TIMETRACK_NOTION_BASE_URL.
const EnvPrefix = "TIMETRACK"

// Config is the process configuration.
type Config struct {
	SocketPath   string        `mapstructure:"socket_path"`
	DBPath       string        `mapstructure:"db_path"`
	BadgeFile    string        `mapstructure:"badge_file"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFile      string        `mapstructure:"log_file"`
	Notion       Notion        `mapstructure:"notion"`
}

// Notion configures the remote store client.
type Notion struct {
	BaseURL string        `mapstructure:"base_url"`
	Version string        `mapstructure:"version"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Dir is the directory holding the config file, database and socket.
func Dir() string {
	return filepath.Dir(store.DefaultDBPath())
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "timetrack.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("socket_path", daemon.SocketPath())
	v.SetDefault("db_path", store.DefaultDBPath())
	v.SetDefault("badge_file", filepath.Join(Dir(), "badge"))
	v.SetDefault("tick_interval", "1s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", filepath.Join(Dir(), "timetrack.log"))
	v.SetDefault("notion.base_url", notion.DefaultBaseURL)
	v.SetDefault("notion.version", notion.DefaultVersion)
	v.SetDefault("notion.timeout", "15s")
}

// Load reads defaults, then the YAML file at path (DefaultPath when empty,
// where a missing file is fine), then TIMETRACK_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.Notion.Timeout <= 0 {
		return fmt.Errorf("notion.timeout must be positive, got %s", c.Notion.Timeout)
	}
	if c.SocketPath == "" || c.DBPath == "" {
		return errors.New("socket_path and db_path are required")
	}
	return nil
}

// NotionOptions are the client options for the configured endpoint.
func (c *Config) NotionOptions() []notion.Option {
	return []notion.Option{
		notion.WithBaseURL(c.Notion.BaseURL),
		notion.WithVersion(c.Notion.Version),
		notion.WithTimeout(c.Notion.Timeout),
	}
}
