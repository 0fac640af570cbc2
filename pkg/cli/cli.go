package cli

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/config"
)

type Config struct {
	// Application flags
	Debug   bool
	LogFile string

	// Metrics server flags
	MetricsAddr string
	EnableHTTP2 bool

	// Component disable flags
	DisableRetention  bool
	DisableSubmission bool

	// Configuration flags
	ConfigPath        string
	RetentionInterval string
}

// Parse reads the process flags.
func Parse() *Config {
	c, err := ParseArgs(os.Args[1:])
	if err != nil {
		// flag.ExitOnError already exited for malformed flags.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return c
}

// ParseArgs parses args with environment variable fallbacks for every flag.
func ParseArgs(args []string) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("smtp-relay", flag.ContinueOnError)

	// The pattern: fs.XxxVar(&variable, "flag-name", defaultValueOrEnvValue, "help text")
	fs.BoolVar(&config.Debug, "debug", getEnvBool("RELAY_DEBUG", false), "Enable debug level logging")
	fs.StringVar(&config.LogFile, "log-file", getEnvString("RELAY_LOG_FILE", ""),
		"Write logs to this file with size based rotation instead of stderr")

	fs.StringVar(&config.MetricsAddr, "metrics-bind-address", getEnvString("METRICS_BIND_ADDRESS", "0.0.0.0:8081"),
		"The address the metrics endpoint binds to, or 0 to disable the metrics service")
	fs.BoolVar(&config.EnableHTTP2, "enable-http2", getEnvBool("ENABLE_HTTP2", false),
		"If set, HTTP/2 will be enabled for the API server")

	fs.BoolVar(&config.DisableRetention, "disable-retention", getEnvBool("RELAY_DISABLE_RETENTION", false),
		"Disable the background task pruning old delivery log entries")
	fs.BoolVar(&config.DisableSubmission, "disable-submission", getEnvBool("RELAY_DISABLE_SUBMISSION", false),
		"Do not start the SMTP submission listener even when it is configured")

	fs.StringVar(&config.ConfigPath, "config-path", getEnvString("RELAY_CONFIG_PATH", "./config.yaml"),
		"Path to the relay service configuration file")
	fs.StringVar(&config.RetentionInterval, "retention-interval", getEnvString("RELAY_RETENTION_INTERVAL", ""),
		"Override the prune interval from the config file (e.g. '24h', '6h')")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"log_file", c.LogFile,
		"metrics_bind_address", c.MetricsAddr,
		"enable_http2", c.EnableHTTP2,
		"disable_retention", c.DisableRetention,
		"disable_submission", c.DisableSubmission,
		"config_path", c.ConfigPath,
		"retention_interval", c.RetentionInterval,
	)
}

// DisableHTTP2 is used to configure TLS options to disable HTTP/2.
// This is important because HTTP/2 has known vulnerabilities (CVE-2023-44487, CVE-2024-3156).
func DisableHTTP2(c *tls.Config) {
	c.NextProtos = []string{"http/1.1"}
}

// ParseRetentionInterval returns the flag override, or fallback when the flag
// is empty or invalid.
func ParseRetentionInterval(interval string, fallback time.Duration, log *zap.SugaredLogger) time.Duration {
	if fallback <= 0 {
		fallback = config.DefaultRetentionInterval
	}
	d, err := parseDuration("retention-interval", interval, fallback)
	if err != nil {
		log.Warn(err)
	}
	return d
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			duration = d
		} else {
			if err == nil {
				err = fmt.Errorf("must be positive")
			}
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
