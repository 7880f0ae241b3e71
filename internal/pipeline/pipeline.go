// Package pipeline reads and writes Rasa pipeline and policy
// configurations, the "configs" a training request carries.
package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
)

// maxFileSize bounds configuration files.
const maxFileSize = 1 << 20

var (
	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported pipeline format")
	// ErrNoPipeline is returned when neither "pipeline" nor "policies" is set.
	ErrNoPipeline = errors.New(`configuration has no "pipeline" or "policies"`)
)

// Format is a serialization of a pipeline configuration.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "yml", "yaml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Load reads the configuration at path. The format follows the extension.
func Load(path string) (map[string]any, error) {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("pipeline file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data and checks that it describes a pipeline.
func Parse(data []byte, format Format) (map[string]any, error) {
	var (
		cfg map[string]any
		err error
	)
	switch format {
	case FormatYAML:
		cfg, err = yaml.Parser().Unmarshal(data)
	case FormatTOML:
		err = toml.Unmarshal(data, &cfg)
	case FormatJSON:
		err = json.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", format, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate requires a non-empty "pipeline" or "policies" list.
func Validate(cfg map[string]any) error {
	for _, key := range []string{"pipeline", "policies"} {
		v, ok := cfg[key]
		if !ok {
			continue
		}
		if _, ok := v.([]any); !ok {
			if _, ok := v.([]map[string]any); !ok {
				return fmt.Errorf("%q must be a list, got %T", key, v)
			}
		}
	}
	if !hasEntries(cfg["pipeline"]) && !hasEntries(cfg["policies"]) {
		return ErrNoPipeline
	}
	return nil
}

func hasEntries(v any) bool {
	switch list := v.(type) {
	case []any:
		return len(list) > 0
	case []map[string]any:
		return len(list) > 0
	}
	return false
}

// Marshal encodes cfg in format.
func Marshal(cfg map[string]any, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Parser().Marshal(cfg)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.MarshalIndent(cfg, "", "  ")
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Components returns the component and policy names in order, e.g.
// "WhitespaceTokenizer", "DIETClassifier", "TEDPolicy".
func Components(cfg map[string]any) []string {
	var names []string
	for _, key := range []string{"pipeline", "policies"} {
		for _, item := range items(cfg[key]) {
			if name, ok := item["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

// Epochs returns the configured epochs per component that sets them.
func Epochs(cfg map[string]any) map[string]int {
	out := map[string]int{}
	for _, key := range []string{"pipeline", "policies"} {
		for _, item := range items(cfg[key]) {
			name, _ := item["name"].(string)
			if name == "" {
				continue
			}
			switch e := item["epochs"].(type) {
			case int:
				out[name] = e
			case int64:
				out[name] = int(e)
			case float64:
				out[name] = int(e)
			}
		}
	}
	return out
}

func items(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
