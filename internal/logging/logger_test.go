package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.Equal(t, cfg, logger.config)
	assert.Equal(t, "info", logger.Level().String())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	logger := NewTestLogger()
	ctx := context.Background()

	tests := []struct {
		name    string
		logFunc func()
		level   zapcore.Level
		message string
	}{
		{"trace", func() { logger.Trace(ctx, "trace message") }, TraceLevel, "trace message"},
		{"debug", func() { logger.Debug(ctx, "debug message") }, zapcore.DebugLevel, "debug message"},
		{"info", func() { logger.Info(ctx, "info message") }, zapcore.InfoLevel, "info message"},
		{"warn", func() { logger.Warn(ctx, "warn message") }, zapcore.WarnLevel, "warn message"},
		{"error", func() { logger.Error(ctx, "error message") }, zapcore.ErrorLevel, "error message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger.Reset()
			tt.logFunc()

			logs := logger.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, tt.message, logs[0].Message)
		})
	}
}

func TestLogger_SetLevelSharedWithChildren(t *testing.T) {
	logger := NewTestLogger()
	child := logger.Named("botstore").With(zap.String("component", "client"))

	logger.SetLevel(Level(zapcore.WarnLevel))
	child.Info(context.Background(), "dropped")
	child.Warn(context.Background(), "kept")

	require.Len(t, logger.All(), 1)
	assert.Equal(t, "kept", logger.All()[0].Message)
	assert.Equal(t, "warn", child.Level().String())
	assert.False(t, child.Enabled(zapcore.InfoLevel))
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rasac.log")

	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Output.Stdout = false
	cfg.Output.File = path

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "written to file", zap.String("token", "abc"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), `"service":"rasac"`)
	assert.Contains(t, string(data), `"token":"[REDACTED]"`)
	assert.NotContains(t, string(data), `"abc"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLogger_Quiet(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = Level(QuietLevel)
	cfg.Output.Stdout = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	for _, l := range []zapcore.Level{TraceLevel, zapcore.InfoLevel, zapcore.ErrorLevel, zapcore.FatalLevel} {
		assert.False(t, logger.Enabled(l), "level %v", l)
	}
	assert.NoError(t, logger.Close())
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Error(context.Background(), "nothing")
	assert.False(t, logger.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, logger.Sync())
}
