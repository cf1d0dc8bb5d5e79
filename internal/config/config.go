// Package config loads the module configuration from a YAML file with
// environment-variable overrides. Every field has a working default so an
// empty configuration opens a local sqlite+filesystem stack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"alphaforge/internal/calendar"
)

// CalendarConfig defines a trading calendar.
type CalendarConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`  // local open offset from midnight, e.g. "9h30m"
	Close    string `yaml:"close"` // local close offset from midnight, e.g. "16h"
}

// PITConfig selects the bitemporal observation store backend.
type PITConfig struct {
	Driver      string `yaml:"driver"` // sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// S3Config holds the S3 blob backend parameters.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// BlobConfig selects the artifact payload backend.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // fs|s3|memory
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// FramesConfig locates the materialization index.
type FramesConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MaterializationConfig sets materialization policy defaults.
type MaterializationConfig struct {
	Persist        string `yaml:"persist"` // never|selected|always
	CacheEphemeral bool   `yaml:"cache_ephemeral"`
	Leakage        string `yaml:"leakage"` // warn|error
}

// LoggingConfig sets the log sink level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the full module configuration.
type Config struct {
	Calendar        CalendarConfig        `yaml:"calendar"`
	PIT             PITConfig             `yaml:"pit"`
	Blob            BlobConfig            `yaml:"blob"`
	Frames          FramesConfig          `yaml:"frames"`
	Materialization MaterializationConfig `yaml:"materialization"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// Default returns the local-development configuration.
func Default() Config {
	return Config{
		Calendar:        CalendarConfig{Name: "NYSE", Timezone: "America/New_York", Open: "9h30m", Close: "16h"},
		PIT:             PITConfig{Driver: "sqlite", SQLitePath: "alphaforge.db"},
		Blob:            BlobConfig{Driver: "fs", FSRoot: "./blobdata"},
		Frames:          FramesConfig{SQLitePath: "frames.db"},
		Materialization: MaterializationConfig{Persist: "always", CacheEphemeral: true, Leakage: "warn"},
		Logging:         LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (skipped when empty) over the defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by ALPHAFORGE_CONFIG, or pure defaults
// plus env overrides when unset.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("ALPHAFORGE_CONFIG"))
}

func (c *Config) applyEnv() {
	setIfEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIfEnv(&c.Calendar.Name, "ALPHAFORGE_CALENDAR")
	setIfEnv(&c.Calendar.Timezone, "ALPHAFORGE_CALENDAR_TZ")
	setIfEnv(&c.PIT.Driver, "ALPHAFORGE_PIT_DRIVER")
	setIfEnv(&c.PIT.SQLitePath, "ALPHAFORGE_PIT_SQLITE_PATH")
	setIfEnv(&c.PIT.PostgresDSN, "ALPHAFORGE_PIT_POSTGRES_DSN")
	setIfEnv(&c.Blob.Driver, "ALPHAFORGE_BLOB_DRIVER")
	setIfEnv(&c.Blob.FSRoot, "ALPHAFORGE_BLOB_FS_ROOT")
	setIfEnv(&c.Blob.S3.Bucket, "ALPHAFORGE_BLOB_S3_BUCKET")
	setIfEnv(&c.Blob.S3.Region, "ALPHAFORGE_BLOB_S3_REGION")
	setIfEnv(&c.Blob.S3.Endpoint, "ALPHAFORGE_BLOB_S3_ENDPOINT")
	if v := os.Getenv("ALPHAFORGE_BLOB_S3_PATH_STYLE"); v != "" {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	setIfEnv(&c.Frames.SQLitePath, "ALPHAFORGE_FRAMES_SQLITE_PATH")
	setIfEnv(&c.Materialization.Persist, "ALPHAFORGE_PERSIST_MODE")
	setIfEnv(&c.Materialization.Leakage, "ALPHAFORGE_LEAKAGE_POLICY")
	setIfEnv(&c.Logging.Level, "ALPHAFORGE_LOG_LEVEL")
}

// Validate rejects values no component accepts.
func (c Config) Validate() error {
	switch c.PIT.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown pit driver %q", c.PIT.Driver)
	}
	if c.PIT.Driver == "postgres" && c.PIT.PostgresDSN == "" {
		return fmt.Errorf("config: pit driver postgres requires postgres_dsn")
	}
	switch c.Blob.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("config: unknown blob driver %q", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("config: blob driver s3 requires a bucket")
	}
	switch c.Materialization.Persist {
	case "never", "selected", "always":
	default:
		return fmt.Errorf("config: unknown persist mode %q", c.Materialization.Persist)
	}
	switch c.Materialization.Leakage {
	case "warn", "error":
	default:
		return fmt.Errorf("config: unknown leakage policy %q", c.Materialization.Leakage)
	}
	if _, err := time.ParseDuration(c.Calendar.Open); err != nil {
		return fmt.Errorf("config: calendar open offset: %w", err)
	}
	if _, err := time.ParseDuration(c.Calendar.Close); err != nil {
		return fmt.Errorf("config: calendar close offset: %w", err)
	}
	return nil
}

// OpenOffset returns the parsed local open offset.
func (c CalendarConfig) OpenOffset() (time.Duration, error) { return time.ParseDuration(c.Open) }

// CloseOffset returns the parsed local close offset.
func (c CalendarConfig) CloseOffset() (time.Duration, error) { return time.ParseDuration(c.Close) }

// Build constructs the configured trading calendar.
func (c CalendarConfig) Build() (*calendar.TradingCalendar, error) {
	cal, err := calendar.New(c.Name, c.Timezone)
	if err != nil {
		return nil, err
	}
	if cal.OpenOffset, err = c.OpenOffset(); err != nil {
		return nil, fmt.Errorf("calendar open offset: %w", err)
	}
	if cal.CloseOffset, err = c.CloseOffset(); err != nil {
		return nil, fmt.Errorf("calendar close offset: %w", err)
	}
	return cal, nil
}
