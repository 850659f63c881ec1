// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrFalAPIKeyRequired is returned when FAL_API_KEY is not set.
	ErrFalAPIKeyRequired = errors.New("config: FAL_API_KEY is required")
	// ErrUnknownJobStore is returned for an unsupported JOB_STORE value.
	ErrUnknownJobStore = errors.New("config: unknown JOB_STORE")
	// ErrUnknownEventBus is returned for an unsupported EVENT_BUS value.
	ErrUnknownEventBus = errors.New("config: unknown EVENT_BUS")
	// ErrDatabaseURLRequired is returned when JOB_STORE=postgres has no DATABASE_URL.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required for the postgres job store")
)

// Job store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

// Event bus backends.
const (
	BusLocal       = "local"
	BusEventBridge = "eventbridge"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Provider settings
	FalAPIKey            string `env:"FAL_API_KEY, required" json:"-"` // Masked in JSON
	FalBaseURL           string `env:"FAL_BASE_URL, default=https://fal.run" json:"fal_base_url"`
	GenerationTimeoutSec int    `env:"GENERATION_TIMEOUT_SEC, default=300" json:"generation_timeout_sec"`
	CombineTimeoutSec    int    `env:"COMBINE_TIMEOUT_SEC, default=120" json:"combine_timeout_sec"`
	TiersFile            string `env:"TIERS_FILE" json:"tiers_file,omitempty"`

	// Job store settings
	JobStore      string `env:"JOB_STORE, default=memory" json:"job_store"`
	SQLitePath    string `env:"SQLITE_PATH, default=/tmp/contentcraft/jobs.db" json:"sqlite_path"`
	DatabaseURL   string `env:"DATABASE_URL" json:"-"` // Masked in JSON
	DynamoDBTable string `env:"DYNAMODB_TABLE, default=Jobs-prod" json:"dynamodb_table"`
	AWSRegion     string `env:"AWS_REGION" json:"aws_region,omitempty"`

	// Event bus settings
	EventBus     string `env:"EVENT_BUS, default=local" json:"event_bus"`
	EventBusName string `env:"EVENT_BUS_NAME, default=default" json:"event_bus_name"`
	EventsToken  string `env:"EVENTS_TOKEN" json:"-"` // Masked in JSON

	// Drainer settings
	DrainIntervalSec int `env:"DRAIN_INTERVAL_SEC, default=60" json:"drain_interval_sec"`
	DrainBatchSize   int `env:"DRAIN_BATCH_SIZE, default=20" json:"drain_batch_size"`

	// Submission settings
	AllowedResolutions []string `env:"ALLOWED_RESOLUTIONS, default=720p" json:"allowed_resolutions"`

	// Storage settings
	TempDir       string `env:"TEMP_DIR, default=/tmp/contentcraft" json:"temp_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty"`
	FFmpegPath    string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Auth settings
	AdminIDs  []string `env:"ADMIN_IDS" json:"admin_ids,omitempty"`
	JWTSecret string   `env:"JWT_SECRET" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// GenerationTimeout returns the provider call deadline.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

// CombineTimeout returns the combine operation deadline.
func (c *Config) CombineTimeout() time.Duration {
	return time.Duration(c.CombineTimeoutSec) * time.Second
}

// DrainInterval returns the drainer schedule; zero disables it.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSec) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "FAL_API_KEY") {
			return nil, ErrFalAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and that
// backend selectors name a supported backend.
func (c *Config) Validate() error {
	if c.FalAPIKey == "" {
		return ErrFalAPIKeyRequired
	}
	if !slices.Contains([]string{StoreMemory, StoreSQLite, StorePostgres, StoreDynamoDB}, c.JobStore) {
		return fmt.Errorf("%w: %q", ErrUnknownJobStore, c.JobStore)
	}
	if c.JobStore == StorePostgres && c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	if !slices.Contains([]string{BusLocal, BusEventBridge}, c.EventBus) {
		return fmt.Errorf("%w: %q", ErrUnknownEventBus, c.EventBus)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, FalAPIKey: %s, FalBaseURL: %s, JobStore: %s, DatabaseURL: %s, EventBus: %s, EventBusName: %s, EventsToken: %s, DrainIntervalSec: %d, DrainBatchSize: %d, TempDir: %s, S3Bucket: %s, S3Region: %s, JWTSecret: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		mask(c.FalAPIKey),
		c.FalBaseURL,
		c.JobStore,
		mask(c.DatabaseURL),
		c.EventBus,
		c.EventBusName,
		mask(c.EventsToken),
		c.DrainIntervalSec,
		c.DrainBatchSize,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		mask(c.JWTSecret),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
