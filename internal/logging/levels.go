// internal/logging/levels.go
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Request and response bodies of the
// backend client are logged here.
const TraceLevel = zapcore.Level(-2)

// QuietLevel sits above Fatal, so nothing is enabled at it.
const QuietLevel = zapcore.FatalLevel + 1

// Level is a zap level that also understands "trace" and "quiet".
// It unmarshals from config files and environment variables.
type Level zapcore.Level

// Zap returns the zapcore level.
func (l Level) Zap() zapcore.Level { return zapcore.Level(l) }

// String returns the lowercase level name.
func (l Level) String() string {
	switch zapcore.Level(l) {
	case TraceLevel:
		return "trace"
	case QuietLevel:
		return "quiet"
	default:
		return zapcore.Level(l).String()
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := LevelFromString(string(text))
	if err != nil {
		return err
	}
	*l = Level(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LevelFromString parses trace, debug, info, warn, error and quiet.
// The remaining zap names (dpanic, panic, fatal) are accepted as well.
func LevelFromString(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return TraceLevel, nil
	case "quiet", "off", "none":
		return QuietLevel, nil
	case "":
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}
