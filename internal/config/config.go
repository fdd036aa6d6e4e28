package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Forum    ForumConfig    `json:"forum" yaml:"forum"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Archive  ArchiveConfig  `json:"archive" yaml:"archive"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// ForumConfig points the relay at the source forum: REST base, realtime
// channel endpoint and the credentials for both.
type ForumConfig struct {
	APIBase        string `json:"apiBase" yaml:"apiBase"`
	WSURL          string `json:"wsUrl" yaml:"wsUrl"`
	Token          string `json:"token" yaml:"token"`     // REST bearer token
	Session        string `json:"session" yaml:"session"` // xf_session cookie for the realtime channel
	RoomID         int64  `json:"roomId" yaml:"roomId"`
	SelfUserID     int64  `json:"selfUserId" yaml:"selfUserId"` // our forum identity, for echo suppression
	ProfileURLBase string `json:"profileUrlBase" yaml:"profileUrlBase"`
}

type TelegramConfig struct {
	Token     string `json:"token" yaml:"token"`
	ChatID    int64  `json:"chatId" yaml:"chatId"`
	ParseMode string `json:"parseMode" yaml:"parseMode"`
}

type RelayConfig struct {
	EnableWebsocket           bool `json:"enableWebsocket" yaml:"enableWebsocket"`
	EnablePoller              bool `json:"enablePoller" yaml:"enablePoller"`
	PollIntervalSeconds       int  `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	PollBackoffSeconds        int  `json:"pollBackoffSeconds" yaml:"pollBackoffSeconds"`
	ReconnectDelaySeconds     int  `json:"reconnectDelaySeconds" yaml:"reconnectDelaySeconds"`
	MinRequestIntervalSeconds int  `json:"minRequestIntervalSeconds" yaml:"minRequestIntervalSeconds"`
	GroupingWindowSeconds     int  `json:"groupingWindowSeconds" yaml:"groupingWindowSeconds"`
	QueueSize                 int  `json:"queueSize" yaml:"queueSize"`
	SeenCacheSize             int  `json:"seenCacheSize" yaml:"seenCacheSize"`
	ReplyCacheSize            int  `json:"replyCacheSize" yaml:"replyCacheSize"`
}

// ArchiveConfig configures the optional SQLite archive of relayed messages.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

// MetricsConfig configures the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.lolzbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lolzbridge"
	}
	return filepath.Join(home, ".lolzbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON, or YAML by extension), expands environment
// variables, merges defaults and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Archive.DBPath = ExpandPath(cfg.Archive.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Forum.APIBase == "" {
		errs = append(errs, "forum.apiBase is required")
	}
	if cfg.Forum.RoomID < 1 {
		errs = append(errs, "forum.roomId must be >= 1")
	}
	if cfg.Relay.EnableWebsocket && cfg.Forum.WSURL == "" {
		errs = append(errs, "forum.wsUrl is required when relay.enableWebsocket is set")
	}
	if !cfg.Relay.EnableWebsocket && !cfg.Relay.EnablePoller {
		errs = append(errs, "at least one of relay.enableWebsocket and relay.enablePoller must be set")
	}

	if cfg.Relay.PollIntervalSeconds < 1 {
		errs = append(errs, "relay.pollIntervalSeconds must be >= 1")
	}
	if cfg.Relay.PollBackoffSeconds < 1 {
		errs = append(errs, "relay.pollBackoffSeconds must be >= 1")
	}
	if cfg.Relay.GroupingWindowSeconds < 1 {
		errs = append(errs, "relay.groupingWindowSeconds must be >= 1")
	}
	if cfg.Relay.ReplyCacheSize < 1 {
		errs = append(errs, "relay.replyCacheSize must be >= 1")
	}
	if cfg.Relay.SeenCacheSize < 1 {
		errs = append(errs, "relay.seenCacheSize must be >= 1")
	}

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Archive.Enabled && cfg.Archive.DBPath == "" {
		errs = append(errs, "archive.dbPath is required when archive.enabled is set")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics.enabled is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
