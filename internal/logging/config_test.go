package logging

import (
	"testing"

	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad format", func(c *Config) { c.Format = "text" }, true},
		{"no output", func(c *Config) { c.Output.Stdout = false }, true},
		{"no output but quiet", func(c *Config) { c.Output.Stdout = false; c.Level = Level(QuietLevel) }, false},
		{"file only", func(c *Config) { c.Output.Stdout = false; c.Output.File = "/tmp/x.log" }, false},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, true},
		{"zero tick without sampling", func(c *Config) { c.Sampling.Tick = 0; c.Sampling.Enabled = false }, false},
		{"negative caller skip", func(c *Config) { c.Caller.Skip = -1 }, true},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	t.Run("file output disables stdout", func(t *testing.T) {
		cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "json", File: "/tmp/rasac.log"})
		require.NoError(t, err)
		assert.Equal(t, zapcore.DebugLevel, cfg.Level.Zap())
		assert.Equal(t, "json", cfg.Format)
		assert.False(t, cfg.Output.Stdout)
		assert.Equal(t, "/tmp/rasac.log", cfg.Output.File)
	})

	t.Run("quiet", func(t *testing.T) {
		cfg, err := FromSettings(config.LoggingConfig{Level: "quiet"})
		require.NoError(t, err)
		assert.True(t, cfg.Quiet())
	})

	t.Run("empty keeps defaults", func(t *testing.T) {
		cfg, err := FromSettings(config.LoggingConfig{})
		require.NoError(t, err)
		assert.Equal(t, NewDefaultConfig(), cfg)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := FromSettings(config.LoggingConfig{Level: "chatty"})
		assert.Error(t, err)
	})
}
