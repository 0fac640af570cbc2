// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// Gin context keys set by the API auth middleware.
const (
	SubjectKey = "subject"
	EmailKey   = "email"
	GroupsKey  = "groups"
)

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithAuth annotates the request-scoped logger with the caller
// identity from the Gin context (subject, email, group count).
func EnrichReqLoggerWithAuth(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if subject := c.GetString(SubjectKey); subject != "" {
		reqLogger = reqLogger.With("subject", subject)
	}
	if email := c.GetString(EmailKey); email != "" {
		reqLogger = reqLogger.With("email", email)
	}
	if groups := c.GetStringSlice(GroupsKey); len(groups) > 0 {
		reqLogger = reqLogger.With("groupCount", len(groups))
		// full groups list is useful at debug level only
		reqLogger.Debugw("Request token groups", "groups", groups)
	}
	return reqLogger
}

// LogFileOptions controls rotation when logging to a file.
type LogFileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger builds the process logger: JSON production output, or the
// development console encoder when debug is set. Timestamps are RFC3339 UTC
// under "ts". With a file path the output goes to a rotated file instead of
// stderr.
func NewLogger(debug bool, file LogFileOptions) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"

	if file.Path == "" {
		return cfg.Build()
	}

	if file.MaxSizeMB == 0 {
		file.MaxSizeMB = 100
	}
	if file.MaxBackups == 0 {
		file.MaxBackups = 5
	}
	if file.MaxAgeDays == 0 {
		file.MaxAgeDays = 28
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   true,
	})
	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	if debug {
		encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	}
	core := zapcore.NewCore(encoder, writer, cfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}
