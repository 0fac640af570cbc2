package cli

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("RELAY_TEST_ENV", "custom-value")

	assert.Equal(t, "custom-value", getEnvString("RELAY_TEST_ENV", "default"))
	assert.Equal(t, "fallback", getEnvString("RELAY_UNKNOWN_ENV", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		defaultVal bool
		want       bool
	}{
		{name: "true", value: "true", want: true},
		{name: "upper TRUE", value: "TRUE", want: true},
		{name: "numeric one", value: "1", want: true},
		{name: "yes", value: "Yes", want: true},
		{name: "false", value: "false", defaultVal: true, want: false},
		{name: "numeric zero", value: "0", defaultVal: true, want: false},
		{name: "no", value: "NO", defaultVal: true, want: false},
		{name: "invalid keeps default", value: "sometimes", defaultVal: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RELAY_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, getEnvBool("RELAY_TEST_BOOL", tt.defaultVal))
		})
	}

	assert.False(t, getEnvBool("RELAY_BOOL_MISSING", false))
}

func TestDisableHTTP2(t *testing.T) {
	cfg := &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	DisableHTTP2(cfg)
	assert.Equal(t, []string{"http/1.1"}, cfg.NextProtos)

	empty := &tls.Config{}
	DisableHTTP2(empty)
	assert.Equal(t, []string{"http/1.1"}, empty.NextProtos)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		expected    time.Duration
		expectError bool
	}{
		{name: "valid 6h", value: "6h", expected: 6 * time.Hour},
		{name: "valid 30m", value: "30m", expected: 30 * time.Minute},
		{name: "empty value uses default", value: "", expected: 24 * time.Hour},
		{name: "invalid uses default", value: "daily", expected: 24 * time.Hour, expectError: true},
		{name: "numeric without unit uses default", value: "100", expected: 24 * time.Hour, expectError: true},
		{name: "negative uses default", value: "-1h", expected: 24 * time.Hour, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseDuration("retention-interval", tt.value, 24*time.Hour)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseRetentionInterval(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	assert.Equal(t, 6*time.Hour, ParseRetentionInterval("6h", 24*time.Hour, logger))
	assert.Equal(t, 12*time.Hour, ParseRetentionInterval("", 12*time.Hour, logger))
	assert.Equal(t, 12*time.Hour, ParseRetentionInterval("bad", 12*time.Hour, logger))
	assert.Equal(t, 24*time.Hour, ParseRetentionInterval("", 0, logger))
}

func TestParseArgs(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := ParseArgs(nil)
		require.NoError(t, err)
		assert.Equal(t, "./config.yaml", cfg.ConfigPath)
		assert.Equal(t, "0.0.0.0:8081", cfg.MetricsAddr)
		assert.False(t, cfg.Debug)
		assert.False(t, cfg.DisableRetention)
		assert.False(t, cfg.DisableSubmission)
		assert.Empty(t, cfg.LogFile)
	})

	t.Run("environment fallbacks", func(t *testing.T) {
		t.Setenv("RELAY_CONFIG_PATH", "/etc/relay/config.yaml")
		t.Setenv("RELAY_DISABLE_SUBMISSION", "yes")
		t.Setenv("RELAY_LOG_FILE", "/var/log/relay.log")

		cfg, err := ParseArgs(nil)
		require.NoError(t, err)
		assert.Equal(t, "/etc/relay/config.yaml", cfg.ConfigPath)
		assert.True(t, cfg.DisableSubmission)
		assert.Equal(t, "/var/log/relay.log", cfg.LogFile)
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("RELAY_CONFIG_PATH", "/etc/relay/config.yaml")

		cfg, err := ParseArgs([]string{"--config-path", "local.yaml", "--debug", "--disable-retention", "--retention-interval", "1h"})
		require.NoError(t, err)
		assert.Equal(t, "local.yaml", cfg.ConfigPath)
		assert.True(t, cfg.Debug)
		assert.True(t, cfg.DisableRetention)
		assert.Equal(t, "1h", cfg.RetentionInterval)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := ParseArgs([]string{"--relay-namespace", "x"})
		assert.Error(t, err)
	})
}

func TestConfig_Print(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	config := &Config{
		Debug:             true,
		MetricsAddr:       ":8081",
		ConfigPath:        "./config.yaml",
		DisableSubmission: true,
		RetentionInterval: "6h",
	}

	// This should not panic
	config.Print(logger)
}
