package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
)

type fakeRelay struct {
	mu       sync.Mutex
	nonces   int
	requests []string
	saved    map[string]string
}

func (f *fakeRelay) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	guarded := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(nonceHeader) != "nonce-1" {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "Security check failed"})
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/api/relay/nonce", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.nonces++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, NonceResult{Nonce: "nonce-1", ExpiresAt: time.Now().Add(time.Hour)})
	})
	mux.HandleFunc("/api/relay/config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, relayconfig.RelayConfig{Host: "smtp.example.com", Port: 587, Password: relayconfig.PasswordMask})
		case http.MethodPut:
			guarded(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&f.saved))
				writeJSON(w, http.StatusOK, SaveResult{ActionResult: ActionResult{OK: true, Message: "Settings saved."}, Config: relayconfig.RelayConfig{Host: f.saved[relayconfig.KeyHost]}})
			})(w, r)
		}
	})
	mux.HandleFunc("/api/relay/test", guarded(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["email"] == "bounce@example.com" {
			writeJSON(w, http.StatusBadGateway, ActionResult{Message: "Test email failed.", Details: "550 rejected"})
			return
		}
		writeJSON(w, http.StatusOK, ActionResult{OK: true, Message: "Test email sent."})
	}))
	mux.HandleFunc("/api/relay/logs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.RawQuery)
		f.mu.Unlock()
		if r.Method == http.MethodDelete {
			guarded(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, ActionResult{OK: true, Message: "Log cleared."})
			})(w, r)
			return
		}
		writeJSON(w, http.StatusOK, Logs{Logs: []maillog.Attempt{{ID: 1, Recipient: "ops@example.com", Status: maillog.StatusSuccess}}, Count: 1})
	})
	mux.HandleFunc("/api/relay/presets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, relayconfig.Presets())
	})
	mux.HandleFunc("/api/relay/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"service": "smtp-relay", "version": "v1.0.0", "relayEnabled": true})
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "No token provided"})
			return
		}
		assert.Equal(t, "relayctl", r.Header.Get("User-Agent"))
		mux.ServeHTTP(w, r)
	})
}

func newTestClient(t *testing.T, token string) (*Client, *fakeRelay) {
	t.Helper()
	relay := &fakeRelay{}
	srv := httptest.NewServer(relay.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(WithServer(srv.URL), WithToken(token))
	require.NoError(t, err)
	return c, relay
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{name: "missing server", wantErr: true},
		{name: "empty server", opts: []Option{WithServer("")}, wantErr: true},
		{name: "invalid server", opts: []Option{WithServer("://bad")}, wantErr: true},
		{name: "valid", opts: []Option{WithServer("https://relay.example.com"), WithToken("t"), WithTimeout(time.Second)}},
		{name: "missing CA file", opts: []Option{WithServer("https://relay.example.com"), WithTLSConfig("/nonexistent/ca.pem", false)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				require.Nil(t, c)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
		})
	}
}

func TestWithTLSConfigRejectsGarbageCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))
	_, err := New(WithServer("https://relay.example.com"), WithTLSConfig(path, false))
	require.ErrorContains(t, err, "failed to parse CA file")
}

func TestReadEndpoints(t *testing.T) {
	c, relay := newTestClient(t, "test-token")
	ctx := context.Background()

	cfg, err := c.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", cfg.Host)
	assert.Equal(t, relayconfig.PasswordMask, cfg.Password)

	logs, err := c.ListLogs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, maillog.StatusSuccess, logs.Logs[0].Status)
	_, err = c.ListLogs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"limit=5", ""}, relay.requests)

	presets, err := c.Presets(ctx)
	require.NoError(t, err)
	assert.Equal(t, relayconfig.Presets(), presets)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", info.Version)
	assert.True(t, info.RelayEnabled)
	assert.Zero(t, relay.nonces)
}

func TestGuardedEndpointsFetchNonce(t *testing.T) {
	c, relay := newTestClient(t, "test-token")
	ctx := context.Background()

	saved, err := c.SaveConfig(ctx, relayconfig.RawInput{relayconfig.KeyHost: "mail.example.com"})
	require.NoError(t, err)
	assert.True(t, saved.OK)
	assert.Equal(t, "mail.example.com", saved.Config.Host)

	res, err := c.SendTest(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, res.OK)

	cleared, err := c.ClearLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Log cleared.", cleared.Message)
	assert.Equal(t, 3, relay.nonces)
}

func TestHTTPErrors(t *testing.T) {
	t.Run("test email failure carries details", func(t *testing.T) {
		c, _ := newTestClient(t, "test-token")
		_, err := c.SendTest(context.Background(), "bounce@example.com")
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
		assert.Equal(t, "Test email failed.", httpErr.Message)
		assert.Contains(t, err.Error(), "550 rejected")
	})

	t.Run("unauthorized", func(t *testing.T) {
		c, _ := newTestClient(t, "wrong")
		_, err := c.GetConfig(context.Background())
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
		assert.Equal(t, "No token provided", httpErr.Message)
	})

	t.Run("nonce failure is reported", func(t *testing.T) {
		c, _ := newTestClient(t, "wrong")
		_, err := c.ClearLogs(context.Background())
		require.ErrorContains(t, err, "failed to obtain nonce")
	})

	t.Run("plain text body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)
		c, err := New(WithServer(srv.URL))
		require.NoError(t, err)
		_, err = c.Info(context.Background())
		require.EqualError(t, err, "request failed (503): upstream down")
	})
}
