// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/apiresponses"
	"github.com/telekom/smtp-relay/pkg/audit"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/ratelimit"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/relayerrors"
	"github.com/telekom/smtp-relay/pkg/system"
	"github.com/telekom/smtp-relay/pkg/version"
)

const (
	MsgInvalidEmail    = "Please provide a valid email address"
	MsgTestSent        = "Test email sent successfully!"
	MsgTestFailed      = "Failed to send test email. Check your SMTP settings."
	MsgLogCleared      = "Email log cleared successfully!"
	MsgSettingsSaved   = "Settings saved."
	testEmailFormField = "test_email"
)

// Sender runs a message through the delivery pipeline.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) mail.Result
}

// ActionResponse is returned by the state changing admin endpoints.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type TestEmailRequest struct {
	Email string `json:"email" form:"email"`
}

type NonceResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LogsResponse struct {
	Logs  []maillog.Attempt `json:"logs"`
	Count int               `json:"count"`
}

type InfoResponse struct {
	version.BuildInfo
	RelayEnabled   bool `json:"relayEnabled"`
	LoggingEnabled bool `json:"loggingEnabled"`
}

type SaveConfigResponse struct {
	ActionResponse
	Config relayconfig.RelayConfig `json:"config"`
}

// RelayController serves the administrator endpoints below /api/relay.
type RelayController struct {
	log         *zap.SugaredLogger
	store       relayconfig.Store
	logs        maillog.Repository
	sender      Sender
	templates   *mail.TestEmailTemplates
	siteName    string
	auth        *AuthHandler
	auditor     *audit.Trail
	testLimiter *ratelimit.Limiter
}

type RelayControllerOptions struct {
	Store     relayconfig.Store
	Logs      maillog.Repository
	Sender    Sender
	Templates *mail.TestEmailTemplates
	SiteName  string
	Auth      *AuthHandler
	// Auditor may be nil.
	Auditor *audit.Trail
	// TestLimiter may be nil to disable test email rate limiting.
	TestLimiter *ratelimit.Limiter
}

func NewRelayController(log *zap.SugaredLogger, opts RelayControllerOptions) *RelayController {
	return &RelayController{
		log:         log.Named("relay-api"),
		store:       opts.Store,
		logs:        opts.Logs,
		sender:      opts.Sender,
		templates:   opts.Templates,
		siteName:    opts.SiteName,
		auth:        opts.Auth,
		auditor:     opts.Auditor,
		testLimiter: opts.TestLimiter,
	}
}

func (rc *RelayController) BasePath() string { return "relay" }

func (rc *RelayController) Handlers() []gin.HandlerFunc {
	return []gin.HandlerFunc{rc.auth.RequireAdmin()}
}

func (rc *RelayController) Register(rg *gin.RouterGroup) error {
	rg.GET("config", rc.getConfig)
	rg.GET("logs", rc.listLogs)
	rg.GET("nonce", rc.nonce)
	rg.GET("presets", rc.presets)
	rg.GET("info", rc.info)

	guarded := rg.Group("", rc.auth.RequireNonce())
	guarded.PUT("config", rc.saveConfig)
	guarded.POST("test", rc.sendTestEmail)
	guarded.DELETE("logs", rc.clearLog)
	return nil
}

func (rc *RelayController) getConfig(c *gin.Context) {
	cfg, err := rc.store.Get(c.Request.Context())
	if err != nil {
		apiresponses.RespondError(c, "load relay config", err, system.GetReqLogger(c, rc.log))
		return
	}
	apiresponses.RespondOK(c, cfg.Redacted())
}

func (rc *RelayController) saveConfig(c *gin.Context) {
	reqLog := system.GetReqLogger(c, rc.log)
	raw, err := bindRawInput(c)
	if err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid relay config", err.Error())
		return
	}
	cfg, err := rc.store.Set(c.Request.Context(), raw)
	if err != nil {
		apiresponses.RespondError(c, "save relay config", err, reqLog)
		return
	}
	reqLog.Infow("Saved relay config", "host", cfg.Host, "port", cfg.Port, "encryption", cfg.Encryption, "logging", cfg.LoggingEnabled)
	rc.auditor.ConfigSaved(c.Request.Context(), actorFromContext(c), cfg.Host, cfg.Port, string(cfg.Encryption), cfg.Password != "")
	apiresponses.RespondOK(c, SaveConfigResponse{
		ActionResponse: ActionResponse{OK: true, Message: MsgSettingsSaved},
		Config:         cfg.Redacted(),
	})
}

// bindRawInput accepts the admin form either urlencoded or as a JSON object.
// JSON booleans and numbers are rendered the way a form would submit them.
func bindRawInput(c *gin.Context) (relayconfig.RawInput, error) {
	raw := relayconfig.RawInput{}
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		var body map[string]interface{}
		if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
			return nil, err
		}
		for k, v := range body {
			switch val := v.(type) {
			case nil:
				raw[k] = ""
			case string:
				raw[k] = val
			case bool:
				raw[k] = strconv.FormatBool(val)
			case float64:
				raw[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				return nil, relayerrors.NewValidation(k, "must be a string, number or boolean")
			}
		}
		return raw, nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	for k, v := range c.Request.PostForm {
		if k == NonceFormKey || len(v) == 0 {
			continue
		}
		raw[k] = v[0]
	}
	return raw, nil
}

func (rc *RelayController) sendTestEmail(c *gin.Context) {
	reqLog := system.GetReqLogger(c, rc.log)

	var req TestEmailRequest
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		_ = c.ShouldBindJSON(&req)
	} else {
		req.Email = c.PostForm("email")
		if req.Email == "" {
			req.Email = c.PostForm(testEmailFormField)
		}
	}
	recipient := strings.TrimSpace(req.Email)
	if !relayconfig.ValidEmail(recipient) {
		apiresponses.RespondBadRequest(c, MsgInvalidEmail)
		return
	}

	if rc.testLimiter != nil && !rc.testLimiter.Allow(c.GetString(system.SubjectKey)) {
		ratelimit.Reject(c, rc.testLimiter.RetryAfter())
		return
	}

	msg, err := rc.templates.Message(mail.TestEmailParams{
		Site:      rc.siteName,
		Recipient: recipient,
		SentAt:    time.Now(),
	})
	if err != nil {
		apiresponses.RespondInternalError(c, "render test email", err, reqLog)
		return
	}

	res := rc.sender.Send(c.Request.Context(), msg)
	rc.auditor.TestSent(c.Request.Context(), actorFromContext(c), recipient, res.OK)
	if !res.OK {
		reqLog.Warnw("Test email failed", "recipient", recipient, "error", res.ErrorMessage)
		c.JSON(http.StatusBadGateway, ActionResponse{OK: false, Message: MsgTestFailed, Details: res.ErrorMessage})
		return
	}
	reqLog.Infow("Test email sent", "recipient", recipient, "relayed", res.Relayed)
	apiresponses.RespondOK(c, ActionResponse{OK: true, Message: MsgTestSent})
}

func (rc *RelayController) listLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs := rc.logs.List(c.Request.Context(), limit)
	if logs == nil {
		logs = []maillog.Attempt{}
	}
	apiresponses.RespondOK(c, LogsResponse{Logs: logs, Count: len(logs)})
}

func (rc *RelayController) clearLog(c *gin.Context) {
	reqLog := system.GetReqLogger(c, rc.log)
	if err := rc.logs.Clear(c.Request.Context()); err != nil {
		apiresponses.RespondError(c, "clear email log", err, reqLog)
		return
	}
	reqLog.Info("Cleared email log")
	rc.auditor.LogCleared(c.Request.Context(), actorFromContext(c))
	apiresponses.RespondOK(c, ActionResponse{OK: true, Message: MsgLogCleared})
}

func (rc *RelayController) nonce(c *gin.Context) {
	nonce, expires, err := rc.auth.IssueNonce(c.GetString(system.SubjectKey))
	if err != nil {
		apiresponses.RespondInternalError(c, "issue nonce", err, system.GetReqLogger(c, rc.log))
		return
	}
	apiresponses.RespondOK(c, NonceResponse{Nonce: nonce, ExpiresAt: expires.UTC()})
}

func (rc *RelayController) presets(c *gin.Context) {
	apiresponses.RespondOK(c, relayconfig.Presets())
}

func (rc *RelayController) info(c *gin.Context) {
	resp := InfoResponse{BuildInfo: version.GetBuildInfo()}
	if cfg, err := rc.store.Get(c.Request.Context()); err == nil {
		resp.RelayEnabled = cfg.RelayEnabled()
		resp.LoggingEnabled = cfg.LoggingEnabled
	} else {
		system.GetReqLogger(c, rc.log).Warnw("Failed to read relay config for info", "error", err)
	}
	apiresponses.RespondOK(c, resp)
}
