package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDefault(t *testing.T) {
	cfg := GenerateDefault()

	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.Equal(t, 10000, cfg.Loop.MaxPromptLength)
	assert.Equal(t, 20, cfg.Loop.MaxLearnings)
	assert.Equal(t, 20, cfg.Loop.MaxIssues)
	assert.Equal(t, 500, cfg.Loop.MaxEntryLength)
	assert.Equal(t, time.Hour, cfg.Loop.StaleStateMaxAge)
	assert.False(t, cfg.Loop.SkipPlanning)

	assert.Equal(t, filepath.Join("~", ".omc", "state"), cfg.Paths.GlobalStateDir)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.False(t, cfg.Notifications.Enabled)
	assert.NotNil(t, cfg.Notifications.Channels)
	assert.Empty(t, cfg.Notifications.Channels)
	assert.Equal(t, 10*time.Second, cfg.Notifications.ChannelTimeout)
	assert.Equal(t, 5*time.Second, cfg.Notifications.DispatchTimeout)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GenerateDefault()
	err := cfg.Validate()
	assert.NoError(t, err, "Default config should be valid")
}

func TestValidate_NonPositiveLimits(t *testing.T) {
	tests := []struct {
		key    string
		mutate func(*Config)
	}{
		{"loop.max_iterations", func(c *Config) { c.Loop.MaxIterations = 0 }},
		{"loop.max_prompt_length", func(c *Config) { c.Loop.MaxPromptLength = -1 }},
		{"loop.max_learnings", func(c *Config) { c.Loop.MaxLearnings = 0 }},
		{"loop.max_issues", func(c *Config) { c.Loop.MaxIssues = 0 }},
		{"loop.max_entry_length", func(c *Config) { c.Loop.MaxEntryLength = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := GenerateDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
			assert.Contains(t, err.Error(), "Hint:")
		})
	}
}

func TestValidate_StaleAge(t *testing.T) {
	cfg := GenerateDefault()
	cfg.Loop.StaleStateMaxAge = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "stale_state_max_age")
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := GenerateDefault()
	cfg.Log.Level = "WARN"
	assert.NoError(t, cfg.Validate())

	cfg.Log.Level = "chatty"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestValidate_Channels(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		wantErr string
	}{
		{name: "log", channel: Channel{Type: "log"}},
		{name: "webhook with url", channel: Channel{Type: "webhook", URL: "http://localhost/x"}},
		{name: "slack without url", channel: Channel{Type: "slack"}, wantErr: "url"},
		{name: "command without command", channel: Channel{Type: "command", Command: "  "}, wantErr: "command"},
		{name: "unknown", channel: Channel{Type: "pager"}, wantErr: "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GenerateDefault()
			cfg.Notifications.Channels = []Channel{tt.channel}
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.Equal(t, filepath.Join(home, ".omc", "state"), cfg.Paths.GlobalStateDir)
	assert.NotNil(t, cfg.Notifications.Channels)
}

func TestLoad_ProjectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".omc", "loopkeeper.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	yaml := `loop:
  max_iterations: 3
  stale_state_max_age: 30m
  skip_planning: true
paths:
  global_state_dir: /tmp/omc-global
notifications:
  enabled: true
  channels:
    - type: log
    - type: webhook
      url: http://localhost:9/hook
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, 30*time.Minute, cfg.Loop.StaleStateMaxAge)
	assert.True(t, cfg.Loop.SkipPlanning)
	assert.Equal(t, 20, cfg.Loop.MaxLearnings, "unset keys keep defaults")
	assert.Equal(t, "/tmp/omc-global", cfg.Paths.GlobalStateDir)
	assert.True(t, cfg.Notifications.Enabled)
	require.Len(t, cfg.Notifications.Channels, 2)
	assert.Equal(t, "webhook", cfg.Notifications.Channels[1].Type)
	assert.Equal(t, "http://localhost:9/hook", cfg.Notifications.Channels[1].URL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LOOPKEEPER_LOOP_MAX_ITERATIONS", "4")
	t.Setenv("LOOPKEEPER_LOG_LEVEL", "debug")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Loop.MaxIterations)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 0\n"), 0600))

	cfg, err := Load(path, "")
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "Hint:")
}

func TestSaveToFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := GenerateDefault()
	cfg.Loop.MaxIterations = 7
	cfg.Notifications.Channels = []Channel{{Type: "command", Command: "true"}}
	path := filepath.Join(t.TempDir(), ".omc", "loopkeeper.yaml")

	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Loop.MaxIterations)
	assert.Equal(t, time.Hour, loaded.Loop.StaleStateMaxAge)
	require.Len(t, loaded.Notifications.Channels, 1)
	assert.Equal(t, "true", loaded.Notifications.Channels[0].Command)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
