// Package config loads and saves the engine's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the ~/.ufo/config.toml file.
type Config struct {
	Watermarks Watermarks `toml:"watermarks,omitempty" json:"watermarks"`
	Storage    Storage    `toml:"storage,omitempty" json:"storage"`
	Logging    Logging    `toml:"logging,omitempty" json:"logging"`
}

// Watermarks holds the cache's low/high byte thresholds.
type Watermarks struct {
	Low  int64 `toml:"low,omitempty" json:"low"`
	High int64 `toml:"high,omitempty" json:"high"`
}

// Storage holds the writeback scratch-file location.
type Storage struct {
	TempDir string `toml:"temp_dir,omitempty" json:"temp_dir"`
}

// Logging holds logger tunables.
type Logging struct {
	Level string `toml:"level,omitempty" json:"level"`
}

// DefaultWatermarkLow and DefaultWatermarkHigh are used when config.toml is
// absent or omits the [watermarks] table.
const (
	DefaultWatermarkLow  = 16 * 1024 * 1024
	DefaultWatermarkHigh = 64 * 1024 * 1024
)

// configDirOverride is set by the --config-dir flag or UFO_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / UFO_HOME value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// UFOHome returns the config directory path.
// Precedence: --config-dir flag / SetConfigDir > UFO_HOME env > ~/.ufo
func UFOHome() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("UFO_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ufo")
	}
	return filepath.Join(home, ".ufo")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(UFOHome(), "config.toml")
}

// EnsureDir creates the UFO home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(UFOHome(), 0o755)
}

// Load reads config.toml and returns a Config struct with defaults applied
// for any omitted field. If the file does not exist, defaults are returned.
func Load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}

	if cfg.Watermarks.Low == 0 {
		cfg.Watermarks.Low = DefaultWatermarkLow
	}
	if cfg.Watermarks.High == 0 {
		cfg.Watermarks.High = DefaultWatermarkHigh
	}
	if cfg.Storage.TempDir == "" {
		cfg.Storage.TempDir = filepath.Join(os.TempDir(), "ufo")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys lists the dot-separated keys that can be used with Get/Set.
var validKeys = map[string]bool{
	"watermarks.low":  true,
	"watermarks.high": true,
	"storage.temp_dir": true,
	"logging.level":   true,
}

// Get retrieves a single config value by dot-separated key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return getField(cfg, key)
}

// Set sets a single config value by dot-separated key.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	if err := setField(cfg, key, value); err != nil {
		return err
	}
	return Save(cfg)
}

func getField(cfg *Config, key string) (string, error) {
	switch key {
	case "watermarks.low":
		return strconv.FormatInt(cfg.Watermarks.Low, 10), nil
	case "watermarks.high":
		return strconv.FormatInt(cfg.Watermarks.High, 10), nil
	case "storage.temp_dir":
		return cfg.Storage.TempDir, nil
	case "logging.level":
		return cfg.Logging.Level, nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func setField(cfg *Config, key, value string) error {
	switch key {
	case "watermarks.low":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("watermarks.low must be an integer: %w", err)
		}
		cfg.Watermarks.Low = v
	case "watermarks.high":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("watermarks.high must be an integer: %w", err)
		}
		cfg.Watermarks.High = v
	case "storage.temp_dir":
		cfg.Storage.TempDir = value
	case "logging.level":
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
