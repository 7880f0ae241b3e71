package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/logging"
)

func TestReloader_Apply(t *testing.T) {
	svc, err := NewService(10)
	require.NoError(t, err)
	logger := logging.NewTestLogger()
	r := NewReloader(svc, logger.Logger)

	cfg := config.NewDefaultConfig()
	cfg.Insights.Patience = 15
	cfg.Logging.Level = "warn"
	r.Apply(cfg)

	assert.Equal(t, 15, svc.DefaultPatience())
	assert.Equal(t, logging.Level(zapcore.WarnLevel), logger.Level())
}

func TestReloader_IgnoresInvalidValues(t *testing.T) {
	svc, err := NewService(10)
	require.NoError(t, err)
	logger := logging.NewTestLogger()
	r := NewReloader(svc, logger.Logger)

	cfg := config.NewDefaultConfig()
	cfg.Insights.Patience = 99
	cfg.Logging.Level = "loud"
	r.Apply(cfg)

	assert.Equal(t, 10, svc.DefaultPatience())
	assert.Equal(t, logging.Level(logging.TraceLevel), logger.Level())
	logger.AssertLogged(t, zapcore.WarnLevel, "ignoring reloaded patience")
	logger.AssertLogged(t, zapcore.WarnLevel, "ignoring reloaded log level")
}

func TestReloader_OverridesWin(t *testing.T) {
	svc, err := NewService(10)
	require.NoError(t, err)
	logger := logging.NewTestLogger()
	logger.SetLevel(logging.Level(zapcore.DebugLevel))
	r := NewReloader(svc, logger.Logger).WithOverrides(func(cfg *config.Config) {
		cfg.Logging.Level = "debug"
	})

	cfg := config.NewDefaultConfig()
	cfg.Insights.Patience = 20
	cfg.Logging.Level = "error"
	r.Apply(cfg)

	assert.Equal(t, 20, svc.DefaultPatience())
	assert.Equal(t, logging.Level(zapcore.DebugLevel), logger.Level())
	logger.AssertNotLogged(t, zapcore.InfoLevel, "log level changed")
}
