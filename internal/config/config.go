// ABOUTME: Configuration loading and parsing for termchat
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptyourai/termchat/internal/protocol"
)

// Config represents the complete termchat configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	User       UserConfig       `yaml:"user"`
	Chat       ChatConfig       `yaml:"chat"`
	Connection ConnectionConfig `yaml:"connection"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds backend endpoint configuration
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`
}

// UserConfig identifies the user attached to every request
type UserConfig struct {
	ID string `yaml:"id"`
}

// ChatConfig holds request defaults and the history bound
type ChatConfig struct {
	Theme         string `yaml:"theme"`
	Audience      string `yaml:"audience"`
	ResponseStyle string `yaml:"response_style"`
	HistoryBound  int    `yaml:"history_bound"`
}

// ConnectionConfig holds heartbeat and reconnect timing
type ConnectionConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	ReconnectDelay    time.Duration `yaml:"-"`
	ConnectTimeout    time.Duration `yaml:"-"`
	MaxReconnects     int           `yaml:"max_reconnects"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	ReconnectDelayRaw    string `yaml:"reconnect_delay"`
	ConnectTimeoutRaw    string `yaml:"connect_timeout"`
}

// TimeoutsConfig holds the per-mode request budgets
type TimeoutsConfig struct {
	Quick    time.Duration `yaml:"-"`
	Enhanced time.Duration `yaml:"-"`

	QuickRaw    string `yaml:"quick"`
	EnhancedRaw string `yaml:"enhanced"`
}

// ArchiveConfig holds the turn archive location
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8000",
			WSURL:   "ws://localhost:8000/ws",
		},
		Chat: ChatConfig{
			ResponseStyle: protocol.DefaultResponseStyle,
			HistoryBound:  50,
		},
		Connection: ConnectionConfig{
			HeartbeatInterval: 30 * time.Second,
			ReconnectDelay:    3 * time.Second,
			ConnectTimeout:    10 * time.Second,
			MaxReconnects:     5,
		},
		Timeouts: TimeoutsConfig{
			Quick:    30 * time.Second,
			Enhanced: 120 * time.Second,
		},
		Archive: ArchiveConfig{
			Path: "termchat.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields left empty fall back to Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.WSURL == "" {
		return fmt.Errorf("server.ws_url is required")
	}

	if c.Chat.Theme != "" && !protocol.ValidTheme(c.Chat.Theme) {
		return fmt.Errorf("chat.theme %q is not a known theme", c.Chat.Theme)
	}
	if c.Chat.Audience != "" && !protocol.ValidAudience(c.Chat.Audience) {
		return fmt.Errorf("chat.audience %q is not a known audience", c.Chat.Audience)
	}
	if c.Chat.ResponseStyle != "" && !protocol.ValidResponseStyle(c.Chat.ResponseStyle) {
		return fmt.Errorf("chat.response_style %q is not a known response style", c.Chat.ResponseStyle)
	}
	if c.Chat.HistoryBound < 0 {
		return fmt.Errorf("chat.history_bound must not be negative")
	}

	if c.Connection.MaxReconnects < 0 {
		return fmt.Errorf("connection.max_reconnects must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Connection.HeartbeatIntervalRaw != "" {
		cfg.Connection.HeartbeatInterval, err = time.ParseDuration(cfg.Connection.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Connection.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Connection.ReconnectDelayRaw != "" {
		cfg.Connection.ReconnectDelay, err = time.ParseDuration(cfg.Connection.ReconnectDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_delay %q: %w", cfg.Connection.ReconnectDelayRaw, err)
		}
	}

	if cfg.Connection.ConnectTimeoutRaw != "" {
		cfg.Connection.ConnectTimeout, err = time.ParseDuration(cfg.Connection.ConnectTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing connect_timeout %q: %w", cfg.Connection.ConnectTimeoutRaw, err)
		}
	}

	if cfg.Timeouts.QuickRaw != "" {
		cfg.Timeouts.Quick, err = time.ParseDuration(cfg.Timeouts.QuickRaw)
		if err != nil {
			return fmt.Errorf("parsing timeouts.quick %q: %w", cfg.Timeouts.QuickRaw, err)
		}
	}

	if cfg.Timeouts.EnhancedRaw != "" {
		cfg.Timeouts.Enhanced, err = time.ParseDuration(cfg.Timeouts.EnhancedRaw)
		if err != nil {
			return fmt.Errorf("parsing timeouts.enhanced %q: %w", cfg.Timeouts.EnhancedRaw, err)
		}
	}

	return nil
}
