// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/smtp-relay/pkg/apiresponses"
	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
)

func TestRelayController_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	user := f.token(t, "dave", false)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "get config", method: http.MethodGet, path: "/api/relay/config"},
		{name: "list logs", method: http.MethodGet, path: "/api/relay/logs"},
		{name: "nonce", method: http.MethodGet, path: "/api/relay/nonce"},
		{name: "save config", method: http.MethodPut, path: "/api/relay/config"},
		{name: "clear logs", method: http.MethodDelete, path: "/api/relay/logs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, request{method: tt.method, path: tt.path, token: user, nonce: f.nonce(t, "dave")})
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Contains(t, w.Body.String(), SecurityCheckFailed)
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodGet, path: "/api/relay/config"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRelayController_GetConfigMasksPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Set(context.Background(), relayconfig.RawInput{
		relayconfig.KeyHost:     "smtp.example.com",
		relayconfig.KeyUsername: "relay",
		relayconfig.KeyPassword: "hunter2",
	})
	require.NoError(t, err)

	w := f.do(t, request{method: http.MethodGet, path: "/api/relay/config", token: f.token(t, "alice", true)})
	require.Equal(t, http.StatusOK, w.Code)

	var got relayconfig.RelayConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "smtp.example.com", got.Host)
	assert.Equal(t, relayconfig.PasswordMask, got.Password)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestRelayController_SaveConfig(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{
			name:        "json",
			contentType: "application/json",
			body:        `{"smtp_host":" smtp.example.com ","smtp_port":465,"smtp_encryption":"ssl","smtp_auth":true,"smtp_username":"relay","smtp_password":"hunter2","enable_logging":false}`,
		},
		{
			name:        "form with logging unticked",
			contentType: "application/x-www-form-urlencoded",
			body: url.Values{
				relayconfig.KeyHost:       {" smtp.example.com "},
				relayconfig.KeyPort:       {"465"},
				relayconfig.KeyEncryption: {"ssl"},
				relayconfig.KeyAuth:       {"1"},
				relayconfig.KeyUsername:   {"relay"},
				relayconfig.KeyPassword:   {"hunter2"},
			}.Encode(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, request{
				method:      http.MethodPut,
				path:        "/api/relay/config",
				body:        tt.body,
				contentType: tt.contentType,
				token:       f.token(t, "alice", true),
				nonce:       f.nonce(t, "alice"),
			})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp SaveConfigResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, resp.OK)
			assert.Equal(t, MsgSettingsSaved, resp.Message)
			assert.Equal(t, relayconfig.PasswordMask, resp.Config.Password)

			stored, err := f.store.Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "smtp.example.com", stored.Host)
			assert.Equal(t, 465, stored.Port)
			assert.Equal(t, relayconfig.EncryptionSSL, stored.Encryption)
			assert.Equal(t, "hunter2", stored.Password)
			assert.False(t, stored.LoggingEnabled)
		})
	}
}

func TestRelayController_SaveConfigKeepsMaskedPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Set(context.Background(), relayconfig.RawInput{relayconfig.KeyPassword: "hunter2"})
	require.NoError(t, err)

	w := f.do(t, request{
		method:      http.MethodPut,
		path:        "/api/relay/config",
		body:        `{"smtp_host":"smtp.example.com","smtp_password":"` + relayconfig.PasswordMask + `"}`,
		contentType: "application/json",
		token:       f.token(t, "alice", true),
		nonce:       f.nonce(t, "alice"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", stored.Password)
}

func TestRelayController_SaveConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"smtp_host":`},
		{name: "nested object", body: `{"smtp_host":{"a":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, request{
				method:      http.MethodPut,
				path:        "/api/relay/config",
				body:        tt.body,
				contentType: "application/json",
				token:       f.token(t, "alice", true),
				nonce:       f.nonce(t, "alice"),
			})
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRelayController_SaveConfigWithoutNonce(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, request{
		method:      http.MethodPut,
		path:        "/api/relay/config",
		body:        `{"smtp_host":"evil.example.com"}`,
		contentType: "application/json",
		token:       f.token(t, "alice", true),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), SecurityCheckFailed)

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored.Host)
}

func TestRelayController_SendTestEmail(t *testing.T) {
	t.Run("invalid address", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, request{
			method:      http.MethodPost,
			path:        "/api/relay/test",
			body:        `{"email":"not-an-address"}`,
			contentType: "application/json",
			token:       f.token(t, "alice", true),
			nonce:       f.nonce(t, "alice"),
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), MsgInvalidEmail)
		assert.Zero(t, f.dispatcher.count())
		assert.Empty(t, f.logs.List(context.Background(), 0))
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, request{
			method:      http.MethodPost,
			path:        "/api/relay/test",
			body:        url.Values{"email": {" ops@example.com "}}.Encode(),
			contentType: "application/x-www-form-urlencoded",
			token:       f.token(t, "alice", true),
			nonce:       f.nonce(t, "alice"),
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp ActionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.OK)
		assert.Equal(t, MsgTestSent, resp.Message)

		require.Equal(t, 1, f.dispatcher.count())
		sent := f.dispatcher.sent[0]
		assert.Equal(t, []string{"ops@example.com"}, sent.Recipients)
		assert.Equal(t, mail.DefaultTestSubject, sent.Subject)
		assert.Contains(t, sent.Body, "Example")

		logs := f.logs.List(context.Background(), 0)
		require.Len(t, logs, 1)
		assert.Equal(t, maillog.StatusSuccess, logs[0].Status)
		assert.Equal(t, "ops@example.com", logs[0].Recipient)
	})

	t.Run("failure", func(t *testing.T) {
		f := newFixture(t)
		f.dispatcher.result = mail.Result{ErrorMessage: "535 authentication failed", Relayed: true}
		w := f.do(t, request{
			method:      http.MethodPost,
			path:        "/api/relay/test",
			body:        `{"email":"ops@example.com"}`,
			contentType: "application/json",
			token:       f.token(t, "alice", true),
			nonce:       f.nonce(t, "alice"),
		})
		require.Equal(t, http.StatusBadGateway, w.Code)

		var resp ActionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.OK)
		assert.Equal(t, MsgTestFailed, resp.Message)
		assert.Equal(t, "535 authentication failed", resp.Details)

		logs := f.logs.List(context.Background(), 0)
		require.Len(t, logs, 1)
		assert.Equal(t, maillog.StatusFailed, logs[0].Status)
	})

	t.Run("missing nonce is rejected before sending", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, request{
			method:      http.MethodPost,
			path:        "/api/relay/test",
			body:        `{"email":"ops@example.com"}`,
			contentType: "application/json",
			token:       f.token(t, "alice", true),
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Zero(t, f.dispatcher.count())
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t, withTestLimiter(config.Limit{Rate: 0.001, Burst: 1}))
		send := func() int {
			return f.do(t, request{
				method:      http.MethodPost,
				path:        "/api/relay/test",
				body:        `{"email":"ops@example.com"}`,
				contentType: "application/json",
				token:       f.token(t, "alice", true),
				nonce:       f.nonce(t, "alice"),
			}).Code
		}
		assert.Equal(t, http.StatusOK, send())
		assert.Equal(t, http.StatusTooManyRequests, send())
		assert.Equal(t, 1, f.dispatcher.count())
	})
}

func TestRelayController_Logs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, f.logs.Append(ctx, maillog.Attempt{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Recipient: "ops@example.com",
			Subject:   "hello",
			Status:    maillog.StatusSuccess,
		}))
	}
	admin := f.token(t, "alice", true)

	w := f.do(t, request{method: http.MethodGet, path: "/api/relay/logs?limit=2", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var resp LogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Logs, 2)
	assert.True(t, resp.Logs[0].Timestamp.After(resp.Logs[1].Timestamp), "newest first")

	w = f.do(t, request{method: http.MethodDelete, path: "/api/relay/logs", token: admin, nonce: f.nonce(t, "alice")})
	require.Equal(t, http.StatusOK, w.Code)
	var action ActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &action))
	assert.Equal(t, MsgLogCleared, action.Message)

	w = f.do(t, request{method: http.MethodGet, path: "/api/relay/logs", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Logs)
}

func TestRelayController_NonceEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, request{method: http.MethodGet, path: "/api/relay/nonce", token: f.token(t, "alice", true)})
	require.Equal(t, http.StatusOK, w.Code)

	var resp NonceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NoError(t, f.auth.VerifyNonce(resp.Nonce, "alice"))
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestRelayController_PresetsAndInfo(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, "alice", true)

	w := f.do(t, request{method: http.MethodGet, path: "/api/relay/presets", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var presets []relayconfig.Preset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &presets))
	assert.Equal(t, relayconfig.Presets(), presets)

	w = f.do(t, request{method: http.MethodGet, path: "/api/relay/info", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var info InfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.False(t, info.RelayEnabled)
	assert.True(t, info.LoggingEnabled)
	assert.NotEmpty(t, info.Version)
}

func TestBindRawInputRejectsUnsupportedJSON(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, request{
		method:      http.MethodPut,
		path:        "/api/relay/config",
		body:        `{"smtp_port":[1,2]}`,
		contentType: "application/json",
		token:       f.token(t, "alice", true),
		nonce:       f.nonce(t, "alice"),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp apiresponses.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Details, "smtp_port")
}
