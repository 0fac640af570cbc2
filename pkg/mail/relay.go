package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"gopkg.in/gomail.v2"

	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/relayerrors"
)

// relaySession drives one SMTP conversation with the configured relay.
type relaySession struct {
	cfg       relayconfig.RelayConfig
	localName string
	timeout   time.Duration
	tlsConfig *tls.Config
	// debug receives every command and reply, nil disables the transcript.
	debug io.Writer
}

func (s relaySession) deliver(ctx context.Context, m *gomail.Message, from string, rcpts []string) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := s.dial(dialCtx, addr)
	if err != nil {
		return relayerrors.NewTransport("dial", err)
	}
	_ = conn.SetDeadline(deadline)
	// unblock reads and writes when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.trace("connected to " + addr)
	var clientConn net.Conn = conn
	var greeting *greetingConn
	if s.debug != nil {
		greeting = &greetingConn{Conn: conn, capture: s.debug}
		clientConn = greeting
	}
	c, err := smtp.NewClient(clientConn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return relayerrors.NewTransport("greeting", err)
	}
	defer func() { _ = c.Close() }()
	if greeting != nil {
		greeting.capture = nil
		c.DebugWriter = s.debug
	}

	if err := c.Hello(s.localName); err != nil {
		return relayerrors.NewTransport("hello", err)
	}
	if s.cfg.Encryption == relayconfig.EncryptionTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return relayerrors.NewTransport("starttls", errors.New("relay does not advertise STARTTLS"))
		}
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return relayerrors.NewTransport("starttls", err)
		}
	}
	if s.cfg.Authenticates() {
		if err := s.auth(c); err != nil {
			return relayerrors.NewTransport("auth", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return relayerrors.NewTransport("mail from", err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return relayerrors.NewTransport("rcpt to", fmt.Errorf("%s: %w", rcpt, err))
		}
	}
	w, err := c.Data()
	if err != nil {
		return relayerrors.NewTransport("data", err)
	}
	if _, err := m.WriteTo(w); err != nil {
		_ = w.Close()
		return relayerrors.NewTransport("data", err)
	}
	if err := w.Close(); err != nil {
		return relayerrors.NewTransport("data", err)
	}
	if err := c.Quit(); err != nil {
		return relayerrors.NewTransport("quit", err)
	}
	return nil
}

// greetingConn copies what the client reads into the transcript until the
// 220 banner is consumed. The client's DebugWriter can only be set after
// NewClient has already read it.
type greetingConn struct {
	net.Conn
	capture io.Writer
}

func (g *greetingConn) Read(p []byte) (int, error) {
	n, err := g.Conn.Read(p)
	if g.capture != nil && n > 0 {
		_, _ = g.capture.Write(p[:n])
	}
	return n, err
}

func (s relaySession) dial(ctx context.Context, addr string) (net.Conn, error) {
	if s.cfg.Encryption == relayconfig.EncryptionSSL {
		d := &tls.Dialer{NetDialer: &net.Dialer{}, Config: s.tlsConfig}
		return d.DialContext(ctx, "tcp", addr)
	}
	d := &net.Dialer{}
	return d.DialContext(ctx, "tcp", addr)
}

// auth prefers PLAIN and falls back to LOGIN when it is the only mechanism offered.
func (s relaySession) auth(c *smtp.Client) error {
	ok, params := c.Extension("AUTH")
	if !ok {
		return errors.New("relay does not support authentication")
	}
	mechs := strings.Fields(strings.ToUpper(params))
	var client sasl.Client
	switch {
	case contains(mechs, sasl.Plain):
		client = sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	case contains(mechs, sasl.Login):
		client = sasl.NewLoginClient(s.cfg.Username, s.cfg.Password)
	default:
		return fmt.Errorf("no supported authentication mechanism in %q", params)
	}
	return c.Auth(client)
}

func (s relaySession) trace(line string) {
	if s.debug == nil {
		return
	}
	_, _ = io.WriteString(s.debug, line+"\n")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
