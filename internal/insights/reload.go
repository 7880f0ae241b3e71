package insights

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/logging"
)

// Reloader applies hot-reloadable settings from a changed config: the
// default patience and the log level. Everything else needs a restart.
type Reloader struct {
	service   *Service
	logger    *logging.Logger
	overrides func(*config.Config)
}

// NewReloader creates a reloader for service. logger is the root logger
// whose level is updated.
func NewReloader(service *Service, logger *logging.Logger) *Reloader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reloader{service: service, logger: logger}
}

// WithOverrides sets a function applied to every reloaded config before
// it takes effect, e.g. command-line flags that outrank the file.
func (r *Reloader) WithOverrides(fn func(*config.Config)) *Reloader {
	r.overrides = fn
	return r
}

// Apply updates the running service from cfg.
func (r *Reloader) Apply(cfg *config.Config) {
	ctx := context.Background()
	if r.overrides != nil {
		r.overrides(cfg)
	}
	if err := r.service.SetDefaultPatience(cfg.Insights.Patience); err != nil {
		r.logger.Warn(ctx, "ignoring reloaded patience", zap.Error(err))
	}
	if cfg.Logging.Level == "" {
		return
	}
	var level logging.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		r.logger.Warn(ctx, "ignoring reloaded log level", zap.Error(err))
		return
	}
	if level != r.logger.Level() {
		r.logger.Info(ctx, "log level changed", zap.Stringer("level", level))
		r.logger.SetLevel(level)
	}
}

// Watch reloads from the config file at path until ctx is done.
func (r *Reloader) Watch(ctx context.Context, path string) error {
	w, err := config.NewWatcher(path)
	if err != nil {
		return err
	}
	w.OnChange = r.Apply
	w.OnError = func(err error) {
		r.logger.Warn(ctx, "config reload failed", zap.Error(err))
	}
	r.logger.Info(ctx, "watching config for changes", zap.String("path", path))
	return w.Run(ctx)
}
