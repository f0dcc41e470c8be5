package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// LOOPKEEPER_LOOP_MAX_ITERATIONS.
const EnvPrefix = "LOOPKEEPER"

// Config holds every tunable loopkeeper reads.
type Config struct {
	Loop          Loop          `mapstructure:"loop" json:"loop"`
	Paths         Paths         `mapstructure:"paths" json:"paths"`
	Log           Log           `mapstructure:"log" json:"log"`
	Notifications Notifications `mapstructure:"notifications" json:"notifications"`
}

// Loop bounds the persistent work loop.
type Loop struct {
	MaxIterations    int           `mapstructure:"max_iterations" json:"max_iterations"`
	MaxPromptLength  int           `mapstructure:"max_prompt_length" json:"max_prompt_length"`
	MaxLearnings     int           `mapstructure:"max_learnings" json:"max_learnings"`
	MaxIssues        int           `mapstructure:"max_issues" json:"max_issues"`
	MaxEntryLength   int           `mapstructure:"max_entry_length" json:"max_entry_length"`
	StaleStateMaxAge time.Duration `mapstructure:"stale_state_max_age" json:"stale_state_max_age"`
	SkipPlanning     bool          `mapstructure:"skip_planning" json:"skip_planning"`
}

// Paths locates state outside the project directory.
type Paths struct {
	GlobalStateDir string `mapstructure:"global_state_dir" json:"global_state_dir"`
}

// Log configures the process logger.
type Log struct {
	Level string `mapstructure:"level" json:"level"`
}

// Notifications configures the best-effort event fan-out.
type Notifications struct {
	Enabled         bool          `mapstructure:"enabled" json:"enabled"`
	Channels        []Channel     `mapstructure:"channels" json:"channels"`
	ChannelTimeout  time.Duration `mapstructure:"channel_timeout" json:"channel_timeout"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" json:"dispatch_timeout"`
}

// Channel is one notification destination.
type Channel struct {
	Type    string `mapstructure:"type" json:"type"`
	URL     string `mapstructure:"url" json:"url,omitempty"`
	Command string `mapstructure:"command" json:"command,omitempty"`
}

// ChannelTypes lists the supported channel kinds.
var ChannelTypes = []string{"log", "webhook", "slack", "discord", "command"}

var logLevels = []string{"debug", "info", "warn", "error"}

// GenerateDefault returns the built-in configuration.
func GenerateDefault() *Config {
	return &Config{
		Loop: Loop{
			MaxIterations:    10,
			MaxPromptLength:  10000,
			MaxLearnings:     20,
			MaxIssues:        20,
			MaxEntryLength:   500,
			StaleStateMaxAge: time.Hour,
			SkipPlanning:     false,
		},
		Paths: Paths{
			GlobalStateDir: filepath.Join("~", ".omc", "state"),
		},
		Log: Log{
			Level: "info",
		},
		Notifications: Notifications{
			Enabled:         false,
			Channels:        []Channel{},
			ChannelTimeout:  10 * time.Second,
			DispatchTimeout: 5 * time.Second,
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	positive := []struct {
		key   string
		value int
	}{
		{"loop.max_iterations", c.Loop.MaxIterations},
		{"loop.max_prompt_length", c.Loop.MaxPromptLength},
		{"loop.max_learnings", c.Loop.MaxLearnings},
		{"loop.max_issues", c.Loop.MaxIssues},
		{"loop.max_entry_length", c.Loop.MaxEntryLength},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("configuration error: invalid '%s' value: %d\n\nHint: %s must be at least 1. Update your config:\n  %s: %d", p.key, p.value, p.key, leaf(p.key), defaultInt(p.key))
		}
	}

	if c.Loop.StaleStateMaxAge <= 0 {
		return fmt.Errorf("configuration error: invalid 'loop.stale_state_max_age' value: %s\n\nHint: Use a positive duration such as:\n  stale_state_max_age: 1h", c.Loop.StaleStateMaxAge)
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("configuration error: invalid 'log.level' value: %q\n\nHint: Use one of: %s", c.Log.Level, strings.Join(logLevels, ", "))
	}

	if c.Notifications.ChannelTimeout <= 0 || c.Notifications.DispatchTimeout <= 0 {
		return fmt.Errorf("configuration error: notification timeouts must be positive\n\nHint: Use durations such as:\n  channel_timeout: 10s\n  dispatch_timeout: 5s")
	}

	for i, ch := range c.Notifications.Channels {
		if err := ch.Validate(i); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks a single channel entry.
func (ch Channel) Validate(index int) error {
	switch ch.Type {
	case "log":
		return nil
	case "webhook", "slack", "discord":
		if ch.URL == "" {
			return fmt.Errorf("configuration error: notification channel %d (%s) has empty 'url' field\n\nHint: Specify where to post events:\n  - type: %s\n    url: https://example.com/hook", index, ch.Type, ch.Type)
		}
		return nil
	case "command":
		if strings.TrimSpace(ch.Command) == "" {
			return fmt.Errorf("configuration error: notification channel %d (command) has empty 'command' field\n\nHint: Specify a program to run with the event on stdin:\n  - type: command\n    command: notify-send", index)
		}
		return nil
	}
	return fmt.Errorf("configuration error: notification channel %d has unknown type %q\n\nHint: Use one of: %s", index, ch.Type, strings.Join(ChannelTypes, ", "))
}

// Load reads configuration from path, or from <projectDir>/.omc/loopkeeper.yaml
// when path is empty, layering LOOPKEEPER_* environment overrides on top of
// the defaults. A missing default file is not an error; a missing explicit
// file is. The result is validated and has "~" expanded in paths.
func Load(path, projectDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, GenerateDefault())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit && projectDir != "" {
		path = filepath.Join(projectDir, ".omc", "loopkeeper.yaml")
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			v.SetConfigFile(path)
			if filepath.Ext(path) == "" {
				v.SetConfigType("yaml")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Notifications.Channels == nil {
		cfg.Notifications.Channels = []Channel{}
	}

	dir, err := expandHome(cfg.Paths.GlobalStateDir)
	if err != nil {
		return nil, err
	}
	cfg.Paths.GlobalStateDir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar default so that AutomaticEnv can see the
// keys even when no file mentions them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("loop.max_iterations", d.Loop.MaxIterations)
	v.SetDefault("loop.max_prompt_length", d.Loop.MaxPromptLength)
	v.SetDefault("loop.max_learnings", d.Loop.MaxLearnings)
	v.SetDefault("loop.max_issues", d.Loop.MaxIssues)
	v.SetDefault("loop.max_entry_length", d.Loop.MaxEntryLength)
	v.SetDefault("loop.stale_state_max_age", d.Loop.StaleStateMaxAge)
	v.SetDefault("loop.skip_planning", d.Loop.SkipPlanning)
	v.SetDefault("paths.global_state_dir", d.Paths.GlobalStateDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("notifications.enabled", d.Notifications.Enabled)
	v.SetDefault("notifications.channel_timeout", d.Notifications.ChannelTimeout)
	v.SetDefault("notifications.dispatch_timeout", d.Notifications.DispatchTimeout)
}

func expandHome(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory for %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func leaf(key string) string {
	return key[strings.LastIndex(key, ".")+1:]
}

func defaultInt(key string) int {
	d := GenerateDefault().Loop
	switch key {
	case "loop.max_iterations":
		return d.MaxIterations
	case "loop.max_prompt_length":
		return d.MaxPromptLength
	case "loop.max_learnings":
		return d.MaxLearnings
	case "loop.max_issues":
		return d.MaxIssues
	case "loop.max_entry_length":
		return d.MaxEntryLength
	}
	return 1
}

// SaveToFile writes the configuration as YAML to path with 0600 permissions.
func (c *Config) SaveToFile(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, c)

	channels := make([]map[string]any, 0, len(c.Notifications.Channels))
	for _, ch := range c.Notifications.Channels {
		m := map[string]any{"type": ch.Type}
		if ch.URL != "" {
			m["url"] = ch.URL
		}
		if ch.Command != "" {
			m["command"] = ch.Command
		}
		channels = append(channels, m)
	}
	v.SetDefault("notifications.channels", channels)
	for _, key := range []string{"loop.stale_state_max_age", "notifications.channel_timeout", "notifications.dispatch_timeout"} {
		v.SetDefault(key, v.GetDuration(key).String())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return nil
}
