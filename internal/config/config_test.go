package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TVIEW_MAX_PROPAGATION_DEPTH", "250")
	t.Setenv("TVIEW_GRAPH_CACHE_ENABLED", "false")
	t.Setenv("TVIEW_PREPARED_TTL", "2h")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.MaxPropagationDepth)
	assert.False(t, cfg.GraphCacheEnabled)
	assert.Equal(t, 2*time.Hour, cfg.PreparedTTL)
}

func TestFromEnv_RejectsOutOfRange(t *testing.T) {
	t.Setenv("TVIEW_MAX_PROPAGATION_DEPTH", "10001")

	_, err := FromEnv()
	require.Error(t, err)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "MaxPropagationDepth", ce.Field)
}

func TestFromEnv_RejectsUnparsable(t *testing.T) {
	t.Setenv("TVIEW_BULK_THRESHOLD", "lots")

	_, err := FromEnv()
	var ce *Error
	assert.True(t, errors.As(err, &ce))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"zero depth", func(c *Config) { c.MaxPropagationDepth = 0 }, "MaxPropagationDepth"},
		{"bulk threshold of one", func(c *Config) { c.BulkThreshold = 1 }, "BulkThreshold"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"short ttl", func(c *Config) { c.PreparedTTL = time.Second }, "PreparedTTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			err := cfg.Validate()
			var ce *Error
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
	assert.NoError(t, Default().Validate())
}
