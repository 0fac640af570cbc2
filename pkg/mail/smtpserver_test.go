package mail

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"

	"github.com/telekom/smtp-relay/pkg/tlsutil"
)

type receivedMessage struct {
	From       string
	Recipients []string
	Data       string
	Authed     bool
}

// testBackend is an in-process relay used to exercise the dispatcher.
type testBackend struct {
	username    string
	password    string
	requireAuth bool
	rejectRcpt  string

	mu       sync.Mutex
	messages []receivedMessage
}

func (b *testBackend) Login(_ *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	if username != b.username || password != b.password {
		return nil, errors.New("Invalid username or password")
	}
	return &testSession{backend: b, authed: true}, nil
}

func (b *testBackend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	if b.requireAuth {
		return nil, smtp.ErrAuthRequired
	}
	return &testSession{backend: b}, nil
}

func (b *testBackend) received() []receivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]receivedMessage(nil), b.messages...)
}

type testSession struct {
	backend *testBackend
	authed  bool
	from    string
	rcpts   []string
}

func (s *testSession) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *testSession) Rcpt(to string) error {
	if s.backend.rejectRcpt != "" && to == s.backend.rejectRcpt {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "No such user here"}
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, receivedMessage{
		From:       s.from,
		Recipients: append([]string(nil), s.rcpts...),
		Data:       string(b),
		Authed:     s.authed,
	})
	return nil
}

func (s *testSession) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *testSession) Logout() error { return nil }

type serverMode int

const (
	modePlain serverMode = iota
	// modeStartTLS advertises STARTTLS on a plaintext listener.
	modeStartTLS
	// modeImplicitTLS wraps the listener in TLS from the first byte.
	modeImplicitTLS
)

type testServer struct {
	host  string
	port  int
	caPEM string
}

func startTestServer(t *testing.T, be *testBackend, mode serverMode) testServer {
	t.Helper()
	ss, err := tlsutil.GenerateSelfSigned("127.0.0.1", "localhost")
	require.NoError(t, err)
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{ss.Certificate}, MinVersion: tls.VersionTLS12}

	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	if mode == modeStartTLS {
		srv.TLSConfig = tlsConfig
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if mode == modeImplicitTLS {
		l = tls.NewListener(l, tlsConfig)
	}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return testServer{host: host, port: port, caPEM: string(ss.CertPEM)}
}
