// Package config loads the daemon configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jawad360/phone-detox/internal/domain"
)

var (
	ErrInvalidSampleInterval = errors.New("monitor.sample_interval must be positive")
	ErrInvalidSweepInterval  = errors.New("monitor.sweep_interval must be positive")
	ErrInvalidCooldown       = errors.New("cooldown minutes must not be negative")
	ErrInvalidTimeOption     = errors.New("monitor.time_options must be positive")
	ErrMissingListen         = errors.New("control.listen is required")
	ErrMissingAppID          = errors.New("apps[].id is required")
	ErrDuplicateAppID        = errors.New("apps[].id must be unique")
	ErrUnknownBehavior       = errors.New("behavior must be \"ask\" or \"stop\"")
	ErrUnsupportedFormat     = errors.New("config file must be .toml, .yaml or .yml")
)

// Config is the full daemon configuration.
type Config struct {
	Monitor MonitorConfig `toml:"monitor" yaml:"monitor"`
	Control ControlConfig `toml:"control" yaml:"control"`
	State   StateConfig   `toml:"state" yaml:"state"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Apps    []AppEntry    `toml:"apps" yaml:"apps"`
}

// MonitorConfig holds loop timing and enforcement defaults.
type MonitorConfig struct {
	SampleInterval         time.Duration `toml:"sample_interval" yaml:"sample_interval"`
	SweepInterval          time.Duration `toml:"sweep_interval" yaml:"sweep_interval"`
	EvictRecheckDelay      time.Duration `toml:"evict_recheck_delay" yaml:"evict_recheck_delay"`
	StopReEvictDelay       time.Duration `toml:"stop_reevict_delay" yaml:"stop_reevict_delay"`
	PromptTimeout          time.Duration `toml:"prompt_timeout" yaml:"prompt_timeout"`
	DefaultCooldownMinutes int           `toml:"default_cooldown_minutes" yaml:"default_cooldown_minutes"`
	TimeOptions            []int         `toml:"time_options" yaml:"time_options"`
	StartPaused            bool          `toml:"start_paused" yaml:"start_paused"`
}

// ControlConfig configures the local control server.
type ControlConfig struct {
	Listen       string  `toml:"listen" yaml:"listen"`
	Token        string  `toml:"token" yaml:"token"`
	InboundRate  float64 `toml:"inbound_rate" yaml:"inbound_rate"`
	InboundBurst int     `toml:"inbound_burst" yaml:"inbound_burst"`
}

// StateConfig configures encrypted state persistence.
type StateConfig struct {
	Persist bool   `toml:"persist" yaml:"persist"`
	DataDir string `toml:"data_dir" yaml:"data_dir"`
}

// LogConfig configures logging and rotation.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Path       string `toml:"path" yaml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// AppEntry declares one monitored app. Empty fields keep the stored config.
type AppEntry struct {
	ID              string `toml:"id" yaml:"id"`
	Behavior        string `toml:"behavior" yaml:"behavior"`
	CooldownMinutes *int   `toml:"cooldown_minutes" yaml:"cooldown_minutes"`
}

// Default returns a config with default values.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			SampleInterval:         time.Second,
			SweepInterval:          2 * time.Second,
			EvictRecheckDelay:      200 * time.Millisecond,
			StopReEvictDelay:       500 * time.Millisecond,
			PromptTimeout:          2 * time.Minute,
			DefaultCooldownMinutes: domain.DefaultCooldownMinutes,
			TimeOptions:            append([]int(nil), domain.DefaultTimeOptions...),
		},
		Control: ControlConfig{
			Listen:       "127.0.0.1:7787",
			InboundRate:  10,
			InboundBurst: 20,
		},
		State: StateConfig{
			Persist: true,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path over the defaults. The format follows the extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes data in the format named by ext and validates the result.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	default:
		return nil, ErrUnsupportedFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Monitor.SampleInterval <= 0 {
		return ErrInvalidSampleInterval
	}
	if c.Monitor.SweepInterval <= 0 {
		return ErrInvalidSweepInterval
	}
	if c.Monitor.DefaultCooldownMinutes < 0 {
		return ErrInvalidCooldown
	}
	for _, m := range c.Monitor.TimeOptions {
		if m <= 0 {
			return ErrInvalidTimeOption
		}
	}
	if c.Control.Listen == "" {
		return ErrMissingListen
	}

	seen := make(map[string]bool, len(c.Apps))
	for _, app := range c.Apps {
		if app.ID == "" {
			return ErrMissingAppID
		}
		if seen[app.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateAppID, app.ID)
		}
		seen[app.ID] = true
		if app.Behavior != "" && !domain.Behavior(app.Behavior).Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownBehavior, app.ID)
		}
		if app.CooldownMinutes != nil && *app.CooldownMinutes < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidCooldown, app.ID)
		}
	}
	return nil
}

// AppIDs returns the ids of every declared app.
func (c *Config) AppIDs() []string {
	ids := make([]string, 0, len(c.Apps))
	for _, app := range c.Apps {
		ids = append(ids, app.ID)
	}
	return ids
}

// Patch converts the entry into a partial config update.
func (a AppEntry) Patch() domain.AppConfigPatch {
	var p domain.AppConfigPatch
	if a.Behavior != "" {
		b := domain.ParseBehavior(a.Behavior)
		p.Behavior = &b
	}
	if a.CooldownMinutes != nil {
		m := *a.CooldownMinutes
		p.CooldownMinutes = &m
	}
	return p
}
