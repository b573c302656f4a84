// Package config provides configuration management for neoai.
// It supports loading configuration from environment variables, a TOML config file, and defaults.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for neoai.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" toml:"logging"`
	Editor   EditorConfig   `mapstructure:"editor" toml:"editor"`
	Agent    AgentConfig    `mapstructure:"agent" toml:"agent"`
	Bridge   BridgeConfig   `mapstructure:"bridge" toml:"bridge"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	NATS     NATSConfig     `mapstructure:"nats" toml:"nats"`
	Tracing  TracingConfig  `mapstructure:"tracing" toml:"tracing"`
}

// ServerConfig holds the UI gateway HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host" toml:"host"`
	Port         int    `mapstructure:"port" toml:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout" toml:"readTimeout"`   // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout" toml:"writeTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" toml:"level"`
	Format     string `mapstructure:"format" toml:"format"`
	OutputPath string `mapstructure:"outputPath" toml:"outputPath"`
}

// EditorConfig controls how the bridge reaches and supervises neovim.
type EditorConfig struct {
	SocketDir               string        `mapstructure:"socketDir" toml:"socketDir"`
	ConnectDeadline         time.Duration `mapstructure:"connectDeadline" toml:"connectDeadline"`
	PollInterval            time.Duration `mapstructure:"pollInterval" toml:"pollInterval"`
	RefreshInterval         time.Duration `mapstructure:"refreshInterval" toml:"refreshInterval"`
	RefreshFailureThreshold int           `mapstructure:"refreshFailureThreshold" toml:"refreshFailureThreshold"`
	ContextRadius           int           `mapstructure:"contextRadius" toml:"contextRadius"`
}

// AgentConfig holds agent subprocess configuration.
type AgentConfig struct {
	// Path is the agent executable. The default "codex-acp" triggers a
	// managed install when it cannot be found on PATH.
	Path            string        `mapstructure:"path" toml:"path"`
	WorkingDir      string        `mapstructure:"workingDir" toml:"workingDir"`
	StartTimeout    time.Duration `mapstructure:"startTimeout" toml:"startTimeout"`
	InstallDir      string        `mapstructure:"installDir" toml:"installDir"`
	DownloadTimeout time.Duration `mapstructure:"downloadTimeout" toml:"downloadTimeout"`
}

// BridgeConfig holds per-terminal bridge behaviour.
type BridgeConfig struct {
	AutoApplyEdits     bool          `mapstructure:"autoApplyEdits" toml:"autoApplyEdits"`
	TraceCapacity      int           `mapstructure:"traceCapacity" toml:"traceCapacity"`
	SystemDedupeWindow time.Duration `mapstructure:"systemDedupeWindow" toml:"systemDedupeWindow"`
	InboxSize          int           `mapstructure:"inboxSize" toml:"inboxSize"`
	TranscriptLimit    int           `mapstructure:"transcriptLimit" toml:"transcriptLimit"`
	ActionRate         float64       `mapstructure:"actionRate" toml:"actionRate"` // actions per second
	ActionBurst        int           `mapstructure:"actionBurst" toml:"actionBurst"`
}

// DatabaseConfig holds the sqlite location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url" toml:"url"`
	ClientID      string `mapstructure:"clientId" toml:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects" toml:"maxReconnects"`
	// Namespace prefixes every subject so several bridges can share a server.
	Namespace string `mapstructure:"namespace" toml:"namespace"`
}

// TracingConfig holds OpenTelemetry settings. The exporter endpoint is read
// from OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	ServiceName string `mapstructure:"serviceName" toml:"serviceName"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns host:port for the gateway listener.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// detectDefaultLogFormat returns "json" for packaged/production runs and
// "text" for terminal use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("NEOAI_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// DataDir returns the per-user data directory (~/.neoai), falling back to
// the temp dir when the home directory cannot be resolved.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "neoai")
	}
	return filepath.Join(home, ".neoai")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7341)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")

	// Editor defaults
	v.SetDefault("editor.socketDir", os.TempDir())
	v.SetDefault("editor.connectDeadline", 8*time.Second)
	v.SetDefault("editor.pollInterval", 250*time.Millisecond)
	v.SetDefault("editor.refreshInterval", 2*time.Second)
	v.SetDefault("editor.refreshFailureThreshold", 2)
	v.SetDefault("editor.contextRadius", 50)

	// Agent defaults
	v.SetDefault("agent.path", "codex-acp")
	v.SetDefault("agent.workingDir", "")
	v.SetDefault("agent.startTimeout", 5*time.Minute)
	v.SetDefault("agent.installDir", dataDir)
	v.SetDefault("agent.downloadTimeout", 3*time.Minute)

	// Bridge defaults
	v.SetDefault("bridge.autoApplyEdits", false)
	v.SetDefault("bridge.traceCapacity", 200)
	v.SetDefault("bridge.systemDedupeWindow", 2*time.Second)
	v.SetDefault("bridge.inboxSize", 64)
	v.SetDefault("bridge.transcriptLimit", 200)
	v.SetDefault("bridge.actionRate", 2.0)
	v.SetDefault("bridge.actionBurst", 4)

	// Database defaults
	v.SetDefault("database.path", filepath.Join(dataDir, "neoai.db"))

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "neoai-bridge")
	v.SetDefault("nats.maxReconnects", 10)
	v.SetDefault("nats.namespace", "")

	// Tracing defaults
	v.SetDefault("tracing.serviceName", "neoai-bridge")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix NEOAI_ with snake_case naming.
// The config file is config.toml in the current directory or ~/.neoai/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NEOAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE, so bind the
	// ones users actually set from the environment.
	_ = v.BindEnv("agent.path", "NEOAI_AGENT_PATH", "NEOAI_AGENT")
	_ = v.BindEnv("agent.workingDir", "NEOAI_AGENT_WORKING_DIR")
	_ = v.BindEnv("agent.installDir", "NEOAI_AGENT_INSTALL_DIR")
	_ = v.BindEnv("editor.socketDir", "NEOAI_EDITOR_SOCKET_DIR")
	_ = v.BindEnv("bridge.autoApplyEdits", "NEOAI_BRIDGE_AUTO_APPLY_EDITS")
	_ = v.BindEnv("database.path", "NEOAI_DATABASE_PATH", "NEOAI_DB")
	_ = v.BindEnv("logging.outputPath", "NEOAI_LOGGING_OUTPUT_PATH")
	_ = v.BindEnv("nats.url", "NEOAI_NATS_URL", "NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("toml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(DataDir())

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Save writes cfg as TOML to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Encode(f, cfg)
}

// Encode writes cfg as TOML to w.
func Encode(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Editor.ConnectDeadline <= 0 {
		errs = append(errs, "editor.connectDeadline must be positive")
	}
	if cfg.Editor.PollInterval <= 0 || cfg.Editor.PollInterval > cfg.Editor.ConnectDeadline {
		errs = append(errs, "editor.pollInterval must be positive and not exceed editor.connectDeadline")
	}
	if cfg.Editor.RefreshInterval <= 0 {
		errs = append(errs, "editor.refreshInterval must be positive")
	}
	if cfg.Editor.RefreshFailureThreshold <= 0 {
		errs = append(errs, "editor.refreshFailureThreshold must be positive")
	}
	if cfg.Editor.ContextRadius < 0 {
		errs = append(errs, "editor.contextRadius must not be negative")
	}

	if strings.TrimSpace(cfg.Agent.Path) == "" {
		errs = append(errs, "agent.path is required")
	}
	if cfg.Agent.StartTimeout <= 0 {
		errs = append(errs, "agent.startTimeout must be positive")
	}

	if strings.ContainsAny(cfg.NATS.Namespace, " *>\t") {
		errs = append(errs, "nats.namespace must not contain spaces or wildcards")
	}

	if cfg.Bridge.TraceCapacity <= 0 {
		errs = append(errs, "bridge.traceCapacity must be positive")
	}
	if cfg.Bridge.InboxSize <= 0 {
		errs = append(errs, "bridge.inboxSize must be positive")
	}
	if cfg.Bridge.TranscriptLimit <= 0 {
		errs = append(errs, "bridge.transcriptLimit must be positive")
	}
	if cfg.Bridge.ActionRate <= 0 || cfg.Bridge.ActionBurst <= 0 {
		errs = append(errs, "bridge.actionRate and bridge.actionBurst must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
