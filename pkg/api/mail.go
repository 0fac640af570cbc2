package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/apiresponses"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/pipeline"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/system"
)

// SendRequest is an application's outgoing message.
type SendRequest struct {
	From         string              `json:"from"`
	FromName     string              `json:"fromName"`
	To           []string            `json:"to" binding:"required"`
	Subject      string              `json:"subject"`
	Body         string              `json:"body"`
	ContentType  string              `json:"contentType"`
	Alternatives []mail.Part         `json:"alternatives"`
	Attachments  []mail.Attachment   `json:"attachments"`
	Headers      map[string][]string `json:"headers"`
}

type SendResponse struct {
	AttemptID string `json:"attemptId"`
	mail.Result
}

type FailureResponse struct {
	Recorded bool `json:"recorded"`
}

// MailController is the application facing send surface below /api/mail.
type MailController struct {
	log      *zap.SugaredLogger
	pipeline *pipeline.Pipeline
}

func NewMailController(log *zap.SugaredLogger, p *pipeline.Pipeline) *MailController {
	return &MailController{log: log.Named("mail-api"), pipeline: p}
}

func (mc *MailController) BasePath() string { return "mail" }

func (mc *MailController) Handlers() []gin.HandlerFunc { return nil }

func (mc *MailController) Register(rg *gin.RouterGroup) error {
	rg.POST("send", mc.send)
	rg.POST("failures", mc.reportFailure)
	return nil
}

func (mc *MailController) send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid send request", err.Error())
		return
	}
	recipients := make([]string, 0, len(req.To))
	for _, to := range req.To {
		to = strings.TrimSpace(to)
		if !relayconfig.ValidEmail(to) {
			apiresponses.RespondBadRequestWithDetails(c, "invalid recipient", to)
			return
		}
		recipients = append(recipients, to)
	}
	if len(recipients) == 0 {
		apiresponses.RespondBadRequest(c, "at least one recipient is required")
		return
	}

	msg := mail.Message{
		From:         strings.TrimSpace(req.From),
		FromName:     req.FromName,
		Recipients:   recipients,
		Subject:      req.Subject,
		Body:         req.Body,
		ContentType:  req.ContentType,
		Alternatives: req.Alternatives,
		Attachments:  req.Attachments,
		Headers:      req.Headers,
	}
	if ids := req.Headers[mail.AttemptHeader]; len(ids) > 0 {
		msg.AttemptID = ids[0]
	}

	ctx := c.Request.Context()
	attempt := mc.pipeline.BeforeSend(ctx, msg)
	res := mc.pipeline.Dispatch(ctx, attempt)

	status := http.StatusOK
	if !res.OK {
		status = http.StatusBadGateway
		system.GetReqLogger(c, mc.log).Infow("Delivery failed", "attemptID", attempt.ID, "error", res.ErrorMessage)
	}
	c.JSON(status, SendResponse{AttemptID: attempt.ID, Result: res})
}

func (mc *MailController) reportFailure(c *gin.Context) {
	var f pipeline.HostFailure
	if err := c.ShouldBindJSON(&f); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid failure report", err.Error())
		return
	}
	recorded := mc.pipeline.OnHostReportedFailure(c.Request.Context(), f)
	system.GetReqLogger(c, mc.log).Debugw("Host reported failure", "attemptID", f.AttemptID, "recorded", recorded)
	apiresponses.RespondOK(c, FailureResponse{Recorded: recorded})
}
