package mail

import (
	"bytes"
	"context"
	"crypto/tls"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// DefaultSender is the mail path used while no relay host is configured.
type DefaultSender interface {
	Send(ctx context.Context, m *gomail.Message) error
	Name() string
}

// MTASender hands messages to a local MTA, by default localhost:25.
type MTASender struct {
	dialer *gomail.Dialer
}

func NewMTASender(host string, port int, insecureSkipVerify bool) *MTASender {
	if host == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 25
	}
	d := gomail.NewDialer(host, port, "", "")
	if insecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Configurable for local MTAs
	}
	return &MTASender{dialer: d}
}

func (s *MTASender) Send(_ context.Context, m *gomail.Message) error {
	return s.dialer.DialAndSend(m)
}

func (s *MTASender) Name() string {
	return "mta"
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log *zap.SugaredLogger
}

func NewLogSender(log *zap.SugaredLogger) *LogSender {
	return &LogSender{log: log.Named("log-sender")}
}

func (s *LogSender) Send(_ context.Context, m *gomail.Message) error {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return err
	}
	s.log.Infow("Mail not delivered, log sender active",
		"to", m.GetHeader("To"),
		"subject", m.GetHeader("Subject"),
		"size", buf.Len())
	s.log.Debugw("Mail content", "raw", buf.String())
	return nil
}

func (s *LogSender) Name() string {
	return "log"
}
