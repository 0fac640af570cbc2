package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/version"
)

const basePath = "api/relay"

type ActionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type NonceResult struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Logs struct {
	Logs  []maillog.Attempt `json:"logs"`
	Count int               `json:"count"`
}

type Info struct {
	version.BuildInfo
	RelayEnabled   bool `json:"relayEnabled"`
	LoggingEnabled bool `json:"loggingEnabled"`
}

type SaveResult struct {
	ActionResult
	Config relayconfig.RelayConfig `json:"config"`
}

func (c *Client) Nonce(ctx context.Context) (NonceResult, error) {
	var out NonceResult
	err := c.do(ctx, request{method: http.MethodGet, endpoint: basePath + "/nonce"}, &out)
	return out, err
}

func (c *Client) GetConfig(ctx context.Context) (relayconfig.RelayConfig, error) {
	var out relayconfig.RelayConfig
	err := c.do(ctx, request{method: http.MethodGet, endpoint: basePath + "/config"}, &out)
	return out, err
}

// SaveConfig submits raw form values; keys missing from raw are treated by the
// server the way an unchecked form field would be.
func (c *Client) SaveConfig(ctx context.Context, raw relayconfig.RawInput) (SaveResult, error) {
	var out SaveResult
	err := c.doGuarded(ctx, request{method: http.MethodPut, endpoint: basePath + "/config", body: raw}, &out)
	return out, err
}

func (c *Client) SendTest(ctx context.Context, email string) (ActionResult, error) {
	var out ActionResult
	err := c.doGuarded(ctx, request{
		method:   http.MethodPost,
		endpoint: basePath + "/test",
		body:     map[string]string{"email": email},
	}, &out)
	return out, err
}

func (c *Client) ListLogs(ctx context.Context, limit int) (Logs, error) {
	endpoint := basePath + "/logs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var out Logs
	err := c.do(ctx, request{method: http.MethodGet, endpoint: endpoint}, &out)
	return out, err
}

func (c *Client) ClearLogs(ctx context.Context) (ActionResult, error) {
	var out ActionResult
	err := c.doGuarded(ctx, request{method: http.MethodDelete, endpoint: basePath + "/logs"}, &out)
	return out, err
}

func (c *Client) Presets(ctx context.Context) ([]relayconfig.Preset, error) {
	var out []relayconfig.Preset
	err := c.do(ctx, request{method: http.MethodGet, endpoint: basePath + "/presets"}, &out)
	return out, err
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	var out Info
	err := c.do(ctx, request{method: http.MethodGet, endpoint: basePath + "/info"}, &out)
	return out, err
}
