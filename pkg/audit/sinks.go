// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/metrics"
	"github.com/telekom/smtp-relay/pkg/version"
)

type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// LogSink writes every event as one structured log line.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, e *Event) error {
	fields := []zap.Field{
		zap.String("id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("severity", string(e.Severity)),
		zap.String("actor", e.Actor),
	}
	for _, f := range []struct{ key, value string }{
		{"sourceIP", e.SourceIP},
		{"attemptID", e.AttemptID},
		{"recipient", e.Recipient},
		{"relayHost", e.RelayHost},
		{"error", e.Error},
	} {
		if f.value != "" {
			fields = append(fields, zap.String(f.key, f.value))
		}
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	s.log.Info("audit_event", fields...)
	return nil
}

func (s *LogSink) Close() error { return nil }
func (s *LogSink) Name() string { return "log" }

// WebhookSinkConfig points the webhook sink at a collector. Timeout defaults
// to five seconds.
type WebhookSinkConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// WebhookSink POSTs every event as JSON.
type WebhookSink struct {
	cfg    WebhookSinkConfig
	client *http.Client
}

func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger.Info("Webhook audit sink configured", zap.String("url", cfg.URL), zap.Duration("timeout", cfg.Timeout))
	return &WebhookSink{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *WebhookSink) Write(ctx context.Context, e *Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("audit"))
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.AuditSinkErrors.WithLabelValues(s.Name(), "network").Inc()
		return fmt.Errorf("post audit event: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.AuditSinkErrors.WithLabelValues(s.Name(), "status").Inc()
		return fmt.Errorf("audit webhook answered %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookSink) Close() error { return nil }
func (s *WebhookSink) Name() string { return "webhook" }

// Fanout writes each event to every sink. One failing sink does not keep the
// event from the others.
type Fanout []Sink

func (f Fanout) Write(ctx context.Context, e *Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (f Fanout) Name() string { return "fanout" }
