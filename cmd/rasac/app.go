package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/botstore"
	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/curvecache"
	"github.com/fyrsmithlabs/rasac/internal/logging"
	"github.com/fyrsmithlabs/rasac/internal/telemetry"
	"github.com/fyrsmithlabs/rasac/internal/training"
	"github.com/fyrsmithlabs/rasac/internal/trainqueue"
)

// outputMode decides where logs go. The console owns the terminal and the
// scripting commands own stdout.
type outputMode int

const (
	outputCLI outputMode = iota
	outputConsole
	outputServer
)

// app holds the dependencies shared by the commands. It is built per
// command so that `rasac version` and `--help` need no config.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	cache  *curvecache.Cache
	client *botstore.Client
	queue  *trainqueue.Queue
}

// loadConfig reads the config file and environment, then applies the
// persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with the persistent flags that were set. Config
// reloads call it too so the flags keep winning over the file.
func applyFlags(cfg *config.Config) {
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func newApp(ctx context.Context, mode outputMode) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger, err := newLogger(cfg.Logging, mode, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, tel: tel}

	opts := []botstore.Option{
		botstore.WithLogger(logger),
		botstore.WithTelemetry(tel),
	}
	if cfg.Cache.Enabled {
		cache, err := curvecache.New(cfg.Cache.Dir, curvecache.WithLogger(logger))
		if err != nil {
			logger.Warn(ctx, "curve cache disabled", zap.Error(err))
		} else {
			a.cache = cache
			opts = append(opts, botstore.WithCache(cache))
		}
	}

	client, err := botstore.New(cfg.API, opts...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.client = client

	logger.Debug(ctx, "rasac initialized",
		zap.String("version", version),
		zap.String("api", client.BaseURL()),
		zap.Bool("cache", a.cache != nil))
	return a, nil
}

// errOTELLogsUnavailable rejects logging.otel when no log exporter runs,
// which would otherwise drop those logs silently.
var errOTELLogsUnavailable = errors.New("logging.otel requires telemetry.enabled")

func newLogger(s config.LoggingConfig, mode outputMode, tel *telemetry.Telemetry) (*logging.Logger, error) {
	cfg, err := logging.FromSettings(s)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	switch mode {
	case outputConsole:
		if cfg.Output.File == "" {
			cfg.Level = logging.Level(logging.QuietLevel)
		}
		cfg.Output.Stdout = false
	case outputCLI:
		if cfg.Output.Stdout {
			cfg.Output.Stdout = false
			cfg.Output.Stderr = true
		}
		if s.Level == "" {
			cfg.Level = logging.Level(zap.WarnLevel)
		}
	}
	if cfg.Output.OTEL && tel.LoggerProvider() == nil {
		return nil, errOTELLogsUnavailable
	}
	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// openQueue opens the training journal on first use.
func (a *app) openQueue() (*trainqueue.Queue, error) {
	if a.queue != nil {
		return a.queue, nil
	}
	q, err := trainqueue.Open(a.cfg.Queue.Path)
	if err != nil {
		return nil, err
	}
	a.queue = q
	return q, nil
}

func (a *app) runner() (*training.Runner, error) {
	q, err := a.openQueue()
	if err != nil {
		return nil, err
	}
	return training.NewRunner(a.client, q, a.logger), nil
}

// Close releases everything newApp and openQueue acquired.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	errs = append(errs, a.tel.Shutdown(context.WithoutCancel(ctx)))
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
	_ = a.logger.Close()
}
