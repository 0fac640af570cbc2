package mail

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/smtp-relay/pkg/metrics"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/relayerrors"
	"github.com/telekom/smtp-relay/pkg/transcript"
)

const DefaultTimeout = 30 * time.Second

// Options holds the service level settings of the dispatcher. Per send
// settings come from the RelayConfig.
type Options struct {
	// Timeout bounds one relay attempt from dial to QUIT.
	Timeout time.Duration
	// LocalName is sent in EHLO.
	LocalName          string
	InsecureSkipVerify bool
	// CertificateAuthority is an optional PEM bundle trusted for relay TLS.
	CertificateAuthority string
	// Identity is the sender used when neither the config nor the message names one.
	Identity relayconfig.Identity
}

// Dispatcher performs a single synchronous send attempt, either through the
// configured relay or through the default sender.
type Dispatcher struct {
	log      *zap.SugaredLogger
	fallback DefaultSender
	opts     Options
}

func NewDispatcher(log *zap.SugaredLogger, fallback DefaultSender, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LocalName == "" {
		opts.LocalName = "localhost"
	}
	return &Dispatcher{log: log.Named("dispatcher"), fallback: fallback, opts: opts}
}

// Send delivers msg once. The capture is drained exactly once before
// returning and its content is placed in the result.
func (d *Dispatcher) Send(ctx context.Context, msg Message, cfg relayconfig.RelayConfig, capture *transcript.Capture) Result {
	if capture == nil {
		capture = transcript.New()
	}
	res := Result{Relayed: cfg.RelayEnabled()}

	var err error
	if len(msg.Recipients) == 0 {
		err = relayerrors.NewValidation("recipients", "at least one recipient is required")
	} else {
		from, fromName := sender(msg, cfg, d.opts.Identity)
		m := compose(msg, from, fromName)
		if res.Relayed {
			err = d.sendRelay(ctx, m, from, msg.Recipients, cfg, capture)
		} else {
			err = d.sendDefault(ctx, m)
		}
	}

	res.Transcript = capture.Drain()
	res.OK = err == nil
	d.observe(cfg, res, err)
	if err != nil {
		res.ErrorMessage = err.Error()
	}
	return res
}

func (d *Dispatcher) sendDefault(ctx context.Context, m *gomail.Message) error {
	if d.fallback == nil {
		return errors.New("no default mail path configured")
	}
	return d.fallback.Send(ctx, m)
}

func (d *Dispatcher) sendRelay(ctx context.Context, m *gomail.Message, from string, rcpts []string, cfg relayconfig.RelayConfig, capture *transcript.Capture) error {
	if cfg.AuthEnabled && cfg.Username == "" {
		d.log.Warnw("Relay authentication is enabled without a username, sending unauthenticated", "host", cfg.Host)
	}
	var debug io.Writer
	if cfg.LoggingEnabled {
		debug = capture
	}
	s := relaySession{
		cfg:       cfg,
		localName: d.opts.LocalName,
		timeout:   d.opts.Timeout,
		tlsConfig: d.tlsConfig(cfg.Host),
		debug:     debug,
	}
	return s.deliver(ctx, m, from, rcpts)
}

func (d *Dispatcher) observe(cfg relayconfig.RelayConfig, res Result, err error) {
	path, host := "default", "default"
	if d.fallback != nil {
		host = d.fallback.Name()
	}
	if res.Relayed {
		path, host = "relay", cfg.Host
	}
	result := "success"
	if err != nil {
		result = "failure"
		metrics.MailSendFailure.WithLabelValues(host).Inc()
		d.log.Warnw("Mail send failed", "path", path, "host", host, "error", err)
	} else {
		metrics.MailSendSuccess.WithLabelValues(host).Inc()
		d.log.Debugw("Mail sent", "path", path, "host", host)
	}
	metrics.DispatchTotal.WithLabelValues(path, result).Inc()
}

func (d *Dispatcher) tlsConfig(host string) *tls.Config {
	tlsConfig := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: d.opts.InsecureSkipVerify, //nolint:gosec // Configurable for testing
	}
	if d.opts.CertificateAuthority != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(d.opts.CertificateAuthority)); ok {
			tlsConfig.RootCAs = certPool
		} else {
			d.log.Warnw("Ignoring unparsable relay certificate authority")
		}
	}
	return tlsConfig
}
