package api

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/pipeline"
	"github.com/telekom/smtp-relay/pkg/ratelimit"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/transcript"
)

const (
	testSecret = "test-hmac-secret"
	adminGroup = "smtp-relay-admins"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	result mail.Result
	sent   []mail.Message
}

func (d *fakeDispatcher) Send(_ context.Context, msg mail.Message, _ relayconfig.RelayConfig, capture *transcript.Capture) mail.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	capture.Record("250 OK")
	res := d.result
	res.Transcript = capture.Drain()
	return res
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type fixture struct {
	cfg        config.Config
	server     *Server
	auth       *AuthHandler
	store      *relayconfig.MemoryStore
	logs       *maillog.MemoryRepository
	dispatcher *fakeDispatcher
	pipeline   *pipeline.Pipeline
}

type fixtureOption func(*config.Config, *RelayControllerOptions)

func withTestLimiter(l config.Limit) fixtureOption {
	return func(_ *config.Config, o *RelayControllerOptions) {
		o.TestLimiter = ratelimit.New(ratelimit.FromLimit("test_email", l))
	}
}

func withConfig(fn func(*config.Config)) fixtureOption {
	return func(c *config.Config, _ *RelayControllerOptions) { fn(c) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	sugar := log.Sugar()

	cfg := config.Config{Auth: config.Auth{HMACSecret: testSecret, Issuer: "https://idp.example.com"}}
	relayOpts := RelayControllerOptions{SiteName: "Example"}
	for _, opt := range opts {
		opt(&cfg, &relayOpts)
	}
	cfg.ApplyDefaults()

	auth, err := NewAuth(sugar, cfg.Auth, nil)
	require.NoError(t, err)

	f := &fixture{
		cfg:        cfg,
		auth:       auth,
		store:      relayconfig.NewMemoryStore(relayconfig.Identity{Address: "relay@example.com", Name: "Relay"}),
		logs:       maillog.NewMemoryRepository(),
		dispatcher: &fakeDispatcher{result: mail.Result{OK: true, Relayed: true}},
	}
	f.pipeline = pipeline.New(sugar, f.store, f.dispatcher, f.logs, nil, pipeline.Options{})

	templates, err := mail.NewTestEmailTemplates("", "")
	require.NoError(t, err)
	relayOpts.Store = f.store
	relayOpts.Logs = f.logs
	relayOpts.Sender = f.pipeline
	relayOpts.Templates = templates
	relayOpts.Auth = auth

	f.server = NewServer(log, cfg, true, auth)
	require.NoError(t, f.server.RegisterAll([]APIController{
		NewRelayController(sugar, relayOpts),
		NewMailController(sugar, f.pipeline),
	}))
	t.Cleanup(func() {
		f.server.Close()
		if relayOpts.TestLimiter != nil {
			relayOpts.TestLimiter.Stop()
		}
	})
	return f
}

// token signs an HS256 bearer token for subject. Admins get the admin group
// with a path prefix to exercise group normalization.
func (f *fixture) token(t *testing.T, subject string, admin bool) string {
	t.Helper()
	groups := []interface{}{"/team/users"}
	if admin {
		groups = append(groups, "/relay/"+adminGroup)
	}
	return signHS256(t, jwt.MapClaims{
		"sub":    subject,
		"email":  subject + "@example.com",
		"iss":    f.cfg.Auth.Issuer,
		"groups": groups,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
}

func (f *fixture) nonce(t *testing.T, subject string) string {
	t.Helper()
	n, _, err := f.auth.IssueNonce(subject)
	require.NoError(t, err)
	return n
}

type request struct {
	method      string
	path        string
	body        string
	contentType string
	token       string
	nonce       string
}

func (f *fixture) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.body != "" {
		body = strings.NewReader(r.body)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set(AuthHeaderKey, "Bearer "+r.token)
	}
	if r.nonce != "" {
		req.Header.Set(NonceHeaderKey, r.nonce)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}
