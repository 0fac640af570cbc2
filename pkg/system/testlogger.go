package system

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// TestLogLevelEnv overrides the level of loggers built by NewTestLogger.
const TestLogLevelEnv = "SMTP_RELAY_TEST_LOG_LEVEL"

// NewTestLogger returns a named sugared logger that writes through t.Log, so
// output only shows up for failing or verbose tests.
func NewTestLogger(t zaptest.TestingT, name string) *zap.SugaredLogger {
	return NewTestZapLogger(t).Named(name).Sugar()
}

// NewTestZapLogger is NewTestLogger for callers that need the plain
// *zap.Logger (audit sinks, gin middleware).
func NewTestZapLogger(t zaptest.TestingT) *zap.Logger {
	level := zapcore.DebugLevel
	if v := os.Getenv(TestLogLevelEnv); v != "" {
		if parsed, err := zapcore.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zaptest.NewLogger(t, zaptest.Level(level))
}
