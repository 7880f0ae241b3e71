// Package config loads rasac configuration from a YAML file and RASAC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/rasac/internal/curve"
)

// Config holds the complete rasac configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Insights  InsightsConfig  `koanf:"insights"`
	Console   ConsoleConfig   `koanf:"console"`
	Server    ServerConfig    `koanf:"server"`
	NATS      NATSConfig      `koanf:"nats"`
	Cache     CacheConfig     `koanf:"cache"`
	Queue     QueueConfig     `koanf:"queue"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// APIConfig describes the training/storage backend.
type APIConfig struct {
	BaseURL      string          `koanf:"base_url"`
	Timeout      Duration        `koanf:"timeout"`
	TrainTimeout Duration        `koanf:"train_timeout"`
	RateLimit    float64         `koanf:"rate_limit"` // requests per second, 0 disables pacing
	Burst        int             `koanf:"burst"`
	Endpoints    EndpointsConfig `koanf:"endpoints"`
}

// EndpointsConfig holds backend paths. Model-scoped routes get
// "/{model_id}" appended.
type EndpointsConfig struct {
	Models string `koanf:"models"`
	Curve  string `koanf:"curve"`
	Config string `koanf:"config"`
	Train  string `koanf:"train"`
	Abort  string `koanf:"abort"`
	NLU    string `koanf:"nlu"`
}

// InsightsConfig holds epoch selection defaults.
type InsightsConfig struct {
	Patience int `koanf:"patience"`
}

// ConsoleConfig holds terminal console settings.
type ConsoleConfig struct {
	PageSize            int      `koanf:"page_size"`
	DownloadDir         string   `koanf:"download_dir"`
	NotificationTimeout Duration `koanf:"notification_timeout"`
}

// ServerConfig holds the insights HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig holds the insights request/reply settings.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Queue   string `koanf:"queue"`
	Token   Secret `koanf:"token"`
}

// CacheConfig holds the on-disk curve cache settings.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
}

// QueueConfig holds the local training journal settings.
type QueueConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig is the flat logging section; see logging.FromSettings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the flat telemetry section; see telemetry.FromSettings.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default values.
const (
	DefaultBaseURL    = "http://localhost:6069"
	DefaultServerPort = 6070
	DefaultPageSize   = 6
	DefaultSubject    = "rasac.insights"
)

// NewDefaultConfig returns a config with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{Cache: CacheConfig{Enabled: true}}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values. Booleans are left alone, so defaults
// that are true are set by the loader before unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = Duration(30 * time.Second)
	}
	if cfg.API.TrainTimeout == 0 {
		cfg.API.TrainTimeout = Duration(2 * time.Hour)
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 5
	}
	ep := &cfg.API.Endpoints
	setDefault(&ep.Models, "/api/rasac/botstore/models")
	setDefault(&ep.Curve, "/api/rasac/botstore/curve")
	setDefault(&ep.Config, "/api/rasac/botstore/config")
	setDefault(&ep.Train, "/api/rasac/bot/train")
	setDefault(&ep.Abort, "/api/rasac/bot/abort")
	setDefault(&ep.NLU, "/api/rasac/botstore/nlu")

	if cfg.Insights.Patience == 0 {
		cfg.Insights.Patience = curve.DefaultPatience
	}

	if cfg.Console.PageSize == 0 {
		cfg.Console.PageSize = DefaultPageSize
	}
	if cfg.Console.DownloadDir == "" {
		cfg.Console.DownloadDir = "."
	}
	if cfg.Console.NotificationTimeout == 0 {
		cfg.Console.NotificationTimeout = Duration(4 * time.Second)
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = DefaultSubject
	}
	if cfg.NATS.Queue == "" {
		cfg.NATS.Queue = "rasac-insights"
	}

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(userDir(os.UserCacheDir), "rasac", "curves")
	}
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = filepath.Join(userDir(os.UserConfigDir), "rasac", "queue.db")
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func userDir(fn func() (string, error)) string {
	dir, err := fn()
	if err != nil {
		return os.TempDir()
	}
	return dir
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.TrainTimeout.Duration() < c.API.Timeout.Duration() {
		errs = append(errs, errors.New("api.train_timeout must be at least api.timeout"))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit must be >= 0, got %v", c.API.RateLimit))
	}
	if c.API.Burst < 1 {
		errs = append(errs, fmt.Errorf("api.burst must be >= 1, got %d", c.API.Burst))
	}

	if err := curve.ValidatePatience(c.Insights.Patience); err != nil {
		errs = append(errs, fmt.Errorf("insights.patience: %w", err))
	}

	if c.Console.PageSize < 1 {
		errs = append(errs, fmt.Errorf("console.page_size must be >= 1, got %d", c.Console.PageSize))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}

	if c.NATS.Enabled && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats is enabled"))
	}

	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol))
	}

	return errors.Join(errs...)
}
