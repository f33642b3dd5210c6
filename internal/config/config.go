// Package config loads engine settings from the environment.
//
// Variables use the TVIEW_ prefix (TVIEW_MAX_PROPAGATION_DEPTH, ...). A
// .env file in the working directory is read first when present; values
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment variable name.
const Prefix = "TVIEW_"

// Config holds the tunables of the refresh engine.
type Config struct {
	DBPath   string `env:"DB_PATH" envDefault:"tview.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cascade
	MaxPropagationDepth int `env:"MAX_PROPAGATION_DEPTH" envDefault:"100"`
	MaxDependencyDepth  int `env:"MAX_DEPENDENCY_DEPTH" envDefault:"10"`
	BulkThreshold       int `env:"BULK_THRESHOLD" envDefault:"10"`
	MaxBatchSize        int `env:"MAX_BATCH_SIZE" envDefault:"1000"`
	MaxPatchOps         int `env:"MAX_PATCH_OPS" envDefault:"16"`

	// Caches
	GraphCacheEnabled bool `env:"GRAPH_CACHE_ENABLED" envDefault:"true"`
	TableCacheEnabled bool `env:"TABLE_CACHE_ENABLED" envDefault:"true"`
	MetricsEnabled    bool `env:"METRICS_ENABLED" envDefault:"false"`

	// Two-phase commit
	PreparedTTL   time.Duration `env:"PREPARED_TTL" envDefault:"24h"`
	SweepSchedule string        `env:"SWEEP_SCHEDULE" envDefault:"@every 5m"`
}

// Default returns the built-in defaults without consulting the environment.
func Default() Config {
	return Config{
		DBPath:              "tview.db",
		LogLevel:            "info",
		MaxPropagationDepth: 100,
		MaxDependencyDepth:  10,
		BulkThreshold:       10,
		MaxBatchSize:        1000,
		MaxPatchOps:         16,
		GraphCacheEnabled:   true,
		TableCacheEnabled:   true,
		PreparedTTL:         24 * time.Hour,
		SweepSchedule:       "@every 5m",
	}
}

// Load reads an optional .env file, then the environment, and validates
// the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv parses the process environment and validates the result.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, &Error{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges. It returns *Error naming the first bad field.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.DBPath, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.MaxPropagationDepth, validation.Required, validation.Min(1), validation.Max(10000)),
		validation.Field(&c.MaxDependencyDepth, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.BulkThreshold, validation.Required, validation.Min(2)),
		validation.Field(&c.MaxBatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxPatchOps, validation.Required, validation.Min(1)),
		validation.Field(&c.PreparedTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.SweepSchedule, validation.Required),
	)
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		return &Error{Field: names[0], Err: fields[names[0]]}
	}
	return &Error{Err: err}
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Error is a configuration error.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
