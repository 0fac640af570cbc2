// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/metrics"
)

const kafkaSinkName = "kafka"

type KafkaSinkConfig struct {
	Brokers []string
	Topic   string
	// Compression is none, gzip, snappy, lz4 or zstd. Empty means snappy.
	Compression string
	TLS         *KafkaTLSConfig
	SASL        *KafkaSASLConfig
}

// KafkaTLSConfig carries PEM material. Client certificates enable mTLS.
type KafkaTLSConfig struct {
	CACert             []byte
	ClientCert         []byte
	ClientKey          []byte
	InsecureSkipVerify bool
}

type KafkaSASLConfig struct {
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string
	Username  string
	Password  string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to one topic. Events of the same delivery
// attempt share a key and therefore a partition, so consumers see them in
// order.
type KafkaSink struct {
	writer    messageWriter
	log       *zap.Logger
	closed    atomic.Bool
	connected atomic.Bool
}

func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka audit sink needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka audit sink needs a topic")
	}
	compression, err := compressionFor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	transport := &kafka.Transport{}
	if cfg.TLS != nil {
		if transport.TLS, err = kafkaTLSConfig(cfg.TLS); err != nil {
			return nil, err
		}
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		if transport.SASL, err = saslMechanism(cfg.SASL); err != nil {
			return nil, err
		}
	}

	// The trail writes one event at a time, so each write is its own batch.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		RequiredAcks: kafka.RequireAll,
		Compression:  compression,
		Transport:    transport,
	}
	logger.Info("Kafka audit sink configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", cfg.TLS != nil),
		zap.Bool("sasl", transport.SASL != nil))
	return newKafkaSink(writer, logger), nil
}

func newKafkaSink(writer messageWriter, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{writer: writer, log: logger.Named("audit-kafka")}
	s.setConnected(true)
	return s
}

func (s *KafkaSink) Write(ctx context.Context, e *Event) error {
	if s.closed.Load() {
		return errors.New("kafka audit sink is closed")
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(e.key()),
		Value:   value,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(e.Type)}},
	}
	if e.AttemptID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "attempt-id", Value: []byte(e.AttemptID)})
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		reason := kafkaFailure(err)
		metrics.AuditSinkErrors.WithLabelValues(kafkaSinkName, reason).Inc()
		if s.setConnected(false) {
			s.log.Warn("Kafka audit sink unavailable", zap.String("reason", reason), zap.Error(err))
		}
		return fmt.Errorf("publish audit event (%s): %w", reason, err)
	}
	if s.setConnected(true) {
		s.log.Info("Kafka audit sink reachable again")
	}
	return nil
}

// setConnected reports whether the state changed.
func (s *KafkaSink) setConnected(up bool) bool {
	v := 0.0
	if up {
		v = 1
	}
	metrics.AuditSinkConnected.WithLabelValues(kafkaSinkName).Set(v)
	return s.connected.Swap(up) != up
}

func (s *KafkaSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	metrics.AuditSinkConnected.WithLabelValues(kafkaSinkName).Set(0)
	return s.writer.Close()
}

func (s *KafkaSink) Name() string { return kafkaSinkName }

// kafkaFailure labels a write error for the sink error counter. Broker error
// codes also satisfy net.Error, so they are matched first.
func kafkaFailure(err error) string {
	var (
		brokerErr kafka.Error
		netErr    net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &brokerErr):
		return "broker"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	return "other"
}

func compressionFor(name string) (kafka.Compression, error) {
	switch name {
	case "", "snappy":
		return kafka.Snappy, nil
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unknown kafka compression %q", name)
}

func kafkaTLSConfig(c *KafkaTLSConfig) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // operator opt-in for lab brokers
	}
	if len(c.CACert) > 0 {
		out.RootCAs = x509.NewCertPool()
		if !out.RootCAs.AppendCertsFromPEM(c.CACert) {
			return nil, errors.New("kafka CA file holds no PEM certificate")
		}
	}
	if len(c.ClientCert) > 0 && len(c.ClientKey) > 0 {
		cert, err := tls.X509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("kafka client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

func saslMechanism(c *KafkaSASLConfig) (sasl.Mechanism, error) {
	switch c.Mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.Username, c.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.Username, c.Password)
	}
	return nil, fmt.Errorf("unsupported kafka SASL mechanism %q", c.Mechanism)
}
