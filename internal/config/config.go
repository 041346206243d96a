// Package config loads and validates acquirer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Events     EventsConfig     `mapstructure:"events"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Handoff    HandoffConfig    `mapstructure:"handoff"`
	Export     ExportConfig     `mapstructure:"export"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Progress   ProgressConfig   `mapstructure:"progress"`
}

// NormalizerConfig lists the query keys stripped during normalization.
type NormalizerConfig struct {
	TrackingParams []string `mapstructure:"tracking_params"`
}

// ClassifierConfig governs the header probe pool.
type ClassifierConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// FetcherConfig governs downloading and politeness.
type FetcherConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Delay          time.Duration `mapstructure:"delay"`
	Burst          int           `mapstructure:"burst"`
	PerHostMax     int           `mapstructure:"per_host_max"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	RobotsFailOpen bool          `mapstructure:"robots_fail_open"`
	BlockedHosts   []string      `mapstructure:"blocked_hosts"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	RawDir         string        `mapstructure:"raw_dir"`
}

// HeadlessConfig configures re-rendering of JavaScript shells.
type HeadlessConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	BodyThreshold int           `mapstructure:"body_threshold"`
}

// RegistryConfig locates the ledger file.
type RegistryConfig struct {
	Path   string `mapstructure:"path"`
	Resume bool   `mapstructure:"resume"`
}

// EventsConfig selects the event log backend.
type EventsConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ProcessorConfig controls text extraction.
type ProcessorConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Concurrency int    `mapstructure:"concurrency"`
	OutputDir   string `mapstructure:"output_dir"`
}

// MirrorConfig selects where fetched artifacts are copied.
type MirrorConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// HandoffConfig selects where processing handoffs are published.
type HandoffConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ExportConfig controls the Postgres registry export.
type ExportConfig struct {
	OnRun     bool   `mapstructure:"on_run"`
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	BatchSize int    `mapstructure:"batch_size"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the rotating log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// ProgressConfig controls progress reporting.
type ProgressConfig struct {
	Bar bool `mapstructure:"bar"`
}

// Load builds a Config from an optional file plus ACQUIRER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ACQUIRER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultTrackingParams are stripped from URLs unless overridden.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "ysclid",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("normalizer.tracking_params", DefaultTrackingParams)
	v.SetDefault("classifier.concurrency", 10)
	v.SetDefault("classifier.timeout", "15s")
	v.SetDefault("classifier.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("fetcher.concurrency", 10)
	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("fetcher.user_agent", "url-acquirer/0.1")
	v.SetDefault("fetcher.delay", "1.5s")
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("fetcher.per_host_max", 2)
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.robots_fail_open", true)
	v.SetDefault("fetcher.blocked_hosts", []string{})
	v.SetDefault("fetcher.max_body_bytes", 50<<20)
	v.SetDefault("fetcher.raw_dir", "raw_downloads")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", "30s")
	v.SetDefault("headless.body_threshold", 2048)
	v.SetDefault("registry.path", "results_registry.csv")
	v.SetDefault("registry.resume", false)
	v.SetDefault("events.driver", "memory")
	v.SetDefault("events.sqlite_path", "acquisition_events.db")
	v.SetDefault("processor.enabled", true)
	v.SetDefault("processor.concurrency", 4)
	v.SetDefault("processor.output_dir", "processed_data")
	v.SetDefault("mirror.provider", "none")
	v.SetDefault("handoff.provider", "none")
	v.SetDefault("export.on_run", false)
	v.SetDefault("export.table", "acquisition_items")
	v.SetDefault("export.batch_size", 500)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "acquisition.log")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("progress.bar", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Classifier.Concurrency <= 0:
		return fmt.Errorf("classifier.concurrency must be > 0")
	case c.Classifier.Timeout <= 0:
		return fmt.Errorf("classifier.timeout must be > 0")
	case c.Fetcher.Concurrency <= 0:
		return fmt.Errorf("fetcher.concurrency must be > 0")
	case c.Fetcher.Timeout <= 0:
		return fmt.Errorf("fetcher.timeout must be > 0")
	case c.Fetcher.Delay < 0:
		return fmt.Errorf("fetcher.delay must be >= 0")
	case c.Fetcher.PerHostMax <= 0:
		return fmt.Errorf("fetcher.per_host_max must be > 0")
	case c.Fetcher.MaxBodyBytes <= 0:
		return fmt.Errorf("fetcher.max_body_bytes must be > 0")
	case strings.TrimSpace(c.Fetcher.RawDir) == "":
		return fmt.Errorf("fetcher.raw_dir is required")
	case c.Headless.Enabled && c.Headless.MaxParallel <= 0:
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	case strings.TrimSpace(c.Registry.Path) == "":
		return fmt.Errorf("registry.path is required")
	case c.Processor.Enabled && c.Processor.Concurrency <= 0:
		return fmt.Errorf("processor.concurrency must be > 0")
	case c.Processor.Enabled && strings.TrimSpace(c.Processor.OutputDir) == "":
		return fmt.Errorf("processor.output_dir is required when processing is enabled")
	}

	switch c.Events.Driver {
	case "memory":
	case "sqlite":
		if c.Events.SQLitePath == "" {
			return fmt.Errorf("events.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("events.driver must be memory or sqlite, got %q", c.Events.Driver)
	}

	switch c.Mirror.Provider {
	case "none", "memory":
	case "gcs":
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("mirror.provider must be none, memory or gcs, got %q", c.Mirror.Provider)
	}

	switch c.Handoff.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Handoff.ProjectID == "" || c.Handoff.Topic == "" {
			return fmt.Errorf("handoff.project_id and handoff.topic are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("handoff.provider must be none, memory or pubsub, got %q", c.Handoff.Provider)
	}

	if c.Export.OnRun && c.Export.DSN == "" {
		return fmt.Errorf("export.dsn must be set when export.on_run is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	return nil
}
