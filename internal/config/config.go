// Package config loads the tool configuration from a YAML file, falling
// back to defaults for everything the file leaves out.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/farid-feyzi/jacoco/internal/execdata"
)

// Config is the complete configuration.
type Config struct {
	Mode     string         `yaml:"mode" validate:"oneof=hit-once hit-count"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Watch    WatchConfig    `yaml:"watch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig locates the persistent store. Path is required unless the
// store lives in memory.
type StoreConfig struct {
	Path       string `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type WatchConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern" validate:"required"`
}

type MetricsConfig struct {
	// Addr is where /metrics is served; empty disables it.
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type AnalysisConfig struct {
	Workers int `yaml:"workers" validate:"gte=0,lte=1024"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Mode:  execdata.ModeHitOnce.String(),
		Log:   LogConfig{Level: "info"},
		Store: StoreConfig{Path: ".jacoco/store"},
		Watch: WatchConfig{Pattern: "*.exec"},
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load reads path over the defaults. An empty path, or a file that does not
// exist, yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ProbeMode returns Mode parsed.
func (c *Config) ProbeMode() execdata.Mode {
	m, err := execdata.ParseMode(c.Mode)
	if err != nil {
		return execdata.ModeHitOnce
	}
	return m
}

// LogLevel returns Log.Level as a slog level.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
