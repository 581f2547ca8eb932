/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine kinds
const (
	KindLog      = "log"
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindPebble   = "pebble"
)

// Config represents the Cashbox configuration
type Config struct {
	DataDir  string   `yaml:"data_dir"`
	Engine   Engine   `yaml:"engine"`
	Timeouts Timeouts `yaml:"timeouts"`
	Logging  Logging  `yaml:"logging"`
}

// Engine selects and tunes the storage backend
type Engine struct {
	Kind                string        `yaml:"kind"`
	File                string        `yaml:"file,omitempty"`
	CompactionFrequency int           `yaml:"compaction_frequency"`
	SnapshotDelay       time.Duration `yaml:"snapshot_delay"`
	SyncWrites          bool          `yaml:"sync_writes"`
	DSN                 string        `yaml:"dsn,omitempty"`
	Table               string        `yaml:"table,omitempty"`
	MailboxSize         int           `yaml:"mailbox_size"`
}

// Timeouts bounds how long callers wait on the engine
type Timeouts struct {
	Startup  time.Duration `yaml:"startup"`
	Request  time.Duration `yaml:"request"`
	Shutdown time.Duration `yaml:"shutdown"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Engine: Engine{
			Kind:                KindLog,
			CompactionFrequency: 250,
			SnapshotDelay:       250 * time.Millisecond,
			Table:               "documents",
			MailboxSize:         1024,
		},
		Timeouts: Timeouts{
			Startup:  30 * time.Second,
			Request:  10 * time.Second,
			Shutdown: 2 * time.Minute,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from the specified path. Keys missing from
// the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// BootstrapConfig writes a default configuration for the given engine kind
func BootstrapConfig(configPath, dataDir, kind string) (*Config, error) {
	config := DefaultConfig()
	if dataDir != "" {
		config.DataDir = dataDir
	}
	if kind != "" {
		config.Engine.Kind = kind
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./cashbox.yaml"
	}

	// ~/.config/cashbox/config.yaml
	configDir := filepath.Join(homeDir, ".config", "cashbox")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

// Validate checks the configuration for values the engine cannot use
func (c *Config) Validate() error {
	var errs []error

	switch c.Engine.Kind {
	case KindLog, KindMemory, KindSQLite, KindPebble:
	case KindPostgres:
		if c.Engine.DSN == "" {
			errs = append(errs, errors.New("engine.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine.kind %q", c.Engine.Kind))
	}

	if c.DataDir == "" && c.Engine.Kind != KindPostgres {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Engine.CompactionFrequency < 0 {
		errs = append(errs, errors.New("engine.compaction_frequency must not be negative"))
	}
	if c.Engine.SnapshotDelay < 0 {
		errs = append(errs, errors.New("engine.snapshot_delay must not be negative"))
	}
	if c.Engine.MailboxSize <= 0 {
		errs = append(errs, errors.New("engine.mailbox_size must be positive"))
	}
	if c.Timeouts.Startup <= 0 || c.Timeouts.Request <= 0 || c.Timeouts.Shutdown <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EngineFile returns the file name used by file based engines
func (c *Config) EngineFile() string {
	if c.Engine.File != "" {
		return c.Engine.File
	}
	if c.Engine.Kind == KindMemory {
		return "cashbox.snapshot"
	}
	return "cashbox.data"
}

// SQLiteDSN returns the configured DSN or a database file in the data dir
func (c *Config) SQLiteDSN() string {
	if c.Engine.DSN != "" {
		return c.Engine.DSN
	}
	return filepath.Join(c.DataDir, "cashbox.db")
}

// ParseLevel maps a level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown logging.level %q", level)
}

// NewLogger builds a logger writing to w
func (l Logging) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
