// Package config handles configuration loading and management for flowline.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for flowline.
type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Retry  RetryConfig  `mapstructure:"retry"`
	State  StateConfig  `mapstructure:"state"`
	Debug  DebugConfig  `mapstructure:"debug"`
}

// EngineConfig holds executor and orchestration settings.
type EngineConfig struct {
	// MaxConcurrency caps the number of tasks running at once.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// DefaultTimeout applies to tasks that declare no timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// EventBuffer sizes the event channel.
	EventBuffer int `mapstructure:"event_buffer"`
}

// RetryConfig holds backoff settings.
type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// StateConfig holds snapshot persistence settings.
type StateConfig struct {
	// Enabled toggles run snapshot persistence.
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the default database location.
	Path string `mapstructure:"path"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	// LogFile, when set, enables debug logging to the given path.
	LogFile string `mapstructure:"log_file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FLOWLINE_*)
// 2. Project config (.flowline.yaml in current directory or parent)
// 3. User config (~/.config/flowline/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Project config takes precedence over the user config.
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FLOWLINE")
	v.AutomaticEnv()
	v.BindEnv("engine.max_concurrency", "FLOWLINE_MAX_CONCURRENCY")
	v.BindEnv("state.path", "FLOWLINE_STATE_PATH")
	v.BindEnv("debug.log_file", "FLOWLINE_DEBUG_LOG")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.State.Path = os.ExpandEnv(cfg.State.Path)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.State.Path = os.ExpandEnv(cfg.State.Path)

	return cfg, nil
}

// Watch reloads the config file at path whenever it changes and calls fn
// with the fresh config. Reload errors keep the previous config.
func Watch(path string, fn func(*Config)) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config from %s: %w", path, err)
	}

	v.OnConfigChange(func(fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		cfg.State.Path = os.ExpandEnv(cfg.State.Path)
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_concurrency", 4)
	v.SetDefault("engine.default_timeout", "5m")
	v.SetDefault("engine.event_buffer", 256)

	v.SetDefault("retry.base_delay", "100ms")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.max_retries", 0)

	v.SetDefault("state.enabled", true)
	v.SetDefault("state.path", "")

	v.SetDefault("debug.log_file", "")
}

// getUserConfigDir returns the XDG config directory for flowline.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "flowline")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "flowline")
	}
	return filepath.Join(home, ".config", "flowline")
}

// findProjectConfig searches for .flowline.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".flowline.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrency: 4,
			DefaultTimeout: 5 * time.Minute,
			EventBuffer:    256,
		},
		Retry: RetryConfig{
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   30 * time.Second,
			MaxRetries: 0,
		},
		State: StateConfig{
			Enabled: true,
		},
	}
}
