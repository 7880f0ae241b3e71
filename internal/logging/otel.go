// internal/logging/otel.go
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore tees the enabled outputs behind the shared atomic level and
// wraps the result with sampling. The returned closer owns the log file.
func newCore(cfg *Config, level zapcore.LevelEnabler, otelProvider log.LoggerProvider) (zapcore.Core, io.Closer, error) {
	cores := make([]zapcore.Core, 0, 3)
	var closer io.Closer

	newWriterCore := func(w zapcore.WriteSyncer) error {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, w, level))
		return nil
	}

	if cfg.Output.Stdout {
		if err := newWriterCore(zapcore.Lock(os.Stdout)); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Output.Stderr {
		if err := newWriterCore(zapcore.Lock(os.Stderr)); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Output.File != "" {
		f, err := openLogFile(cfg.Output.File)
		if err != nil {
			return nil, nil, err
		}
		if err := newWriterCore(zapcore.Lock(f)); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		closer = f
	}

	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore("rasac",
			otelzap.WithLoggerProvider(otelProvider),
		)
		cores = append(cores, &levelFilterCore{Core: otelCore, enabler: level})
	}

	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := zapcore.NewTee(cores...)
	return newSampledCore(core, cfg.Sampling), closer, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
