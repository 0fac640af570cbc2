package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/smtp-relay/pkg/config"
)

type failingController struct{}

func (failingController) BasePath() string { return "broken" }

func (failingController) Handlers() []gin.HandlerFunc { return nil }

func (failingController) Register(*gin.RouterGroup) error { return assert.AnError }

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_Handler_ReturnsGinEngine(t *testing.T) {
	f := newFixture(t)
	_, ok := f.server.Handler().(*gin.Engine)
	assert.True(t, ok)
}

func TestServer_RegisterAllPropagatesErrors(t *testing.T) {
	cfg := config.Config{}
	cfg.ApplyDefaults()
	server := NewServer(zaptest.NewLogger(t), cfg, true, nil)
	defer server.Close()

	err := server.RegisterAll([]APIController{failingController{}})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestServer_APIRateLimit(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.Config) {
		c.RateLimit.API = config.Limit{Rate: 0.001, Burst: 2}
	}))
	alice := f.token(t, "alice", true)
	bob := f.token(t, "bob", true)

	get := func(token string) *httptest.ResponseRecorder {
		return f.do(t, request{method: http.MethodGet, path: "/api/relay/presets", token: token})
	}
	assert.Equal(t, http.StatusOK, get(alice).Code)
	assert.Equal(t, http.StatusOK, get(alice).Code)

	limited := get(alice)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(bob).Code, "limits are per subject")
}

func TestServer_CORS(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"https://admin.example.com"}
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/relay/config", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	req.Header.Set("Access-Control-Request-Headers", NonceHeaderKey)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), NonceHeaderKey)
}

func TestServer_NoCORSWithoutOrigins(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_ListenShutsDownOnCancel(t *testing.T) {
	cfg := config.Config{Server: config.Server{ListenAddress: "127.0.0.1:0", ShutdownTimeout: "2s"}}
	cfg.ApplyDefaults()
	server := NewServer(zaptest.NewLogger(t), cfg, true, nil)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Listen(ctx, false) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_ListenReportsBindErrors(t *testing.T) {
	cfg := config.Config{Server: config.Server{ListenAddress: "127.0.0.1:-1"}}
	cfg.ApplyDefaults()
	server := NewServer(zaptest.NewLogger(t), cfg, true, nil)
	defer server.Close()

	err := server.Listen(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api server failed")
}

func TestServer_CloseNilSafe(t *testing.T) {
	assert.NotPanics(t, func() { (&Server{}).Close() })
}
