package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/audit"
	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
)

const storageMemory = "memory"

func senderIdentity(f config.Fallback) relayconfig.Identity {
	address := f.SenderAddress
	if address == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		address = "noreply@" + host
	}
	return relayconfig.Identity{Address: address, Name: f.SenderName}
}

// openConfigStore keeps the relay config in bbolt unless the whole storage
// layer runs in memory.
func openConfigStore(s config.Storage, id relayconfig.Identity) (relayconfig.Store, error) {
	if s.Driver == storageMemory {
		return relayconfig.NewMemoryStore(id), nil
	}
	store, err := relayconfig.OpenBoltStore(s.ConfigPath, id)
	if err != nil {
		return nil, fmt.Errorf("open relay config store %s: %w", s.ConfigPath, err)
	}
	return store, nil
}

func openMailLog(log *zap.SugaredLogger, s config.Storage) (maillog.Repository, error) {
	if s.Driver == storageMemory {
		return maillog.NewMemoryRepository(), nil
	}
	var timeout time.Duration
	if s.MySQL.Timeout != "" {
		d, err := time.ParseDuration(s.MySQL.Timeout)
		if err != nil {
			return nil, fmt.Errorf("storage.mysql.timeout: %w", err)
		}
		timeout = d
	}
	repo, err := maillog.Open(log, maillog.Options{
		Driver: s.Driver,
		Path:   s.Path,
		MySQL: maillog.MySQLOptions{
			Address:  s.MySQL.Address,
			Database: s.MySQL.Database,
			User:     s.MySQL.User,
			Password: s.MySQL.Password,
			Timeout:  timeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open email log: %w", err)
	}
	return repo, nil
}

// newDefaultSender builds the mail path used while no relay host is set.
func newDefaultSender(ctx context.Context, log *zap.SugaredLogger, f config.Fallback) (mail.DefaultSender, error) {
	switch f.Provider {
	case "mta":
		return mail.NewMTASender(f.MTA.Host, f.MTA.Port, f.MTA.InsecureSkipVerify), nil
	case "ses":
		sender, err := mail.NewSESSender(ctx, mail.SESConfig{
			Region:          f.SES.Region,
			AccessKeyID:     f.SES.AccessKeyID,
			SecretAccessKey: f.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("set up SES sender: %w", err)
		}
		return sender, nil
	case "log":
		return mail.NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("unknown fallback provider %q", f.Provider)
	}
}

// newAuditTrail returns nil when auditing is disabled; the nil Trail
// discards events.
func newAuditTrail(logger *zap.Logger, a config.Audit) (*audit.Trail, error) {
	if !a.Enabled {
		return nil, nil
	}
	sinks := audit.Fanout{audit.NewLogSink(logger)}

	if len(a.Kafka.Brokers) > 0 {
		kcfg := audit.KafkaSinkConfig{
			Brokers:     a.Kafka.Brokers,
			Topic:       a.Kafka.Topic,
			Compression: a.Kafka.Compression,
		}
		if a.Kafka.TLS.Enabled {
			tlsCfg, err := kafkaTLS(a.Kafka.TLS)
			if err != nil {
				return nil, err
			}
			kcfg.TLS = tlsCfg
		}
		if a.Kafka.SASL.Mechanism != "" {
			kcfg.SASL = &audit.KafkaSASLConfig{
				Mechanism: a.Kafka.SASL.Mechanism,
				Username:  a.Kafka.SASL.Username,
				Password:  a.Kafka.SASL.Password,
			}
		}
		sink, err := audit.NewKafkaSink(kcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("set up kafka audit sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if a.Webhook.URL != "" {
		var timeout time.Duration
		if a.Webhook.Timeout != "" {
			d, err := time.ParseDuration(a.Webhook.Timeout)
			if err != nil {
				return nil, fmt.Errorf("audit.webhook.timeout: %w", err)
			}
			timeout = d
		}
		sinks = append(sinks, audit.NewWebhookSink(audit.WebhookSinkConfig{
			URL:     a.Webhook.URL,
			Headers: a.Webhook.Headers,
			Timeout: timeout,
		}, logger))
	}

	var sink audit.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = sinks
	}
	return audit.NewTrail(sink, a.QueueSize, logger), nil
}

func kafkaTLS(t config.KafkaTLS) (*audit.KafkaTLSConfig, error) {
	out := &audit.KafkaTLSConfig{InsecureSkipVerify: t.InsecureSkipVerify}
	read := func(name, path string) ([]byte, error) {
		if path == "" {
			return nil, nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("audit.kafka.tls.%s: %w", name, err)
		}
		return b, nil
	}
	var err error
	if out.CACert, err = read("caFile", t.CAFile); err != nil {
		return nil, err
	}
	if out.ClientCert, err = read("certFile", t.CertFile); err != nil {
		return nil, err
	}
	if out.ClientKey, err = read("keyFile", t.KeyFile); err != nil {
		return nil, err
	}
	return out, nil
}
