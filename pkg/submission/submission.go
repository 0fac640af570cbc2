// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package submission is an SMTP listener applications can submit mail to.
// Every accepted message runs through the delivery pipeline.
package submission

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/telekom/smtp-relay/pkg/audit"
	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/metrics"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/tlsutil"
)

const (
	maxRecipients = 100
	ioTimeout     = 60 * time.Second
	// maxReplyError bounds the relay error echoed back to the client.
	maxReplyError = 200
)

var errInvalidCredentials = &smtp.SMTPError{
	Code:         535,
	EnhancedCode: smtp.EnhancedCode{5, 7, 8},
	Message:      "Authentication credentials invalid",
}

// Sender runs a message through the delivery pipeline.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) mail.Result
}

// Server accepts SMTP submissions.
type Server struct {
	log     *zap.SugaredLogger
	cfg     config.Submission
	smtp    *smtp.Server
	sender  Sender
	auditor *audit.Trail

	username string
	password []byte
	hash     []byte
}

// New builds the listener. Without configured credentials submissions are
// accepted anonymously, otherwise AUTH PLAIN is required after STARTTLS.
// auditor may be nil.
func New(log *zap.SugaredLogger, cfg config.Submission, sender Sender, auditor *audit.Trail) (*Server, error) {
	tlsConfig, err := tlsutil.ServerConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("submission TLS: %w", err)
	}
	if cfg.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("submission passwordHash is not a bcrypt hash: %w", err)
		}
	}

	s := &Server{
		log:      log.Named("submission"),
		cfg:      cfg,
		sender:   sender,
		auditor:  auditor,
		username: cfg.Username,
		password: []byte(cfg.Password),
		hash:     []byte(cfg.PasswordHash),
	}

	srv := smtp.NewServer(&backend{server: s})
	srv.Addr = cfg.ListenAddress
	srv.Domain = cfg.Domain
	srv.TLSConfig = tlsConfig
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = maxRecipients
	srv.ReadTimeout = ioTimeout
	srv.WriteTimeout = ioTimeout
	srv.ErrorLog = zap.NewStdLog(s.log.Desugar())
	s.smtp = srv
	return s, nil
}

// RequiresAuth reports whether clients have to log in.
func (s *Server) RequiresAuth() bool {
	return s.username != ""
}

// Listen serves on the configured address until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("submission listener failed: %w", err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Starting SMTP submission listener", "address", l.Addr().String(), "auth", s.RequiresAuth())
		errCh <- s.smtp.Serve(l)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("submission listener failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.log.Info("Shutting down SMTP submission listener")
	_ = s.smtp.Close()
	// Serve may not have registered l yet.
	_ = l.Close()
	<-errCh
	return nil
}

func (s *Server) authenticate(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 {
		return false
	}
	if len(s.hash) > 0 {
		return bcrypt.CompareHashAndPassword(s.hash, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), s.password) == 1
}

type backend struct {
	server *Server
}

func (b *backend) Login(state *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	s := b.server
	if !s.RequiresAuth() || !s.authenticate(username, password) {
		s.log.Infow("Rejected SMTP login", "username", username, "remote", remoteAddr(state))
		s.auditor.AuthFailure(context.Background(), audit.Actor{Subject: username, SourceIP: remoteAddr(state)}, "smtp submission login")
		return nil, errInvalidCredentials
	}
	return &session{server: s, user: username, remote: remoteAddr(state)}, nil
}

func (b *backend) AnonymousLogin(state *smtp.ConnectionState) (smtp.Session, error) {
	if b.server.RequiresAuth() {
		return nil, smtp.ErrAuthRequired
	}
	return &session{server: b.server, remote: remoteAddr(state)}, nil
}

func remoteAddr(state *smtp.ConnectionState) string {
	if state == nil || state.RemoteAddr == nil {
		return ""
	}
	return state.RemoteAddr.String()
}

type session struct {
	server *Server
	user   string
	remote string

	from  string
	rcpts []string
}

func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.rcpts = s.rcpts[:0]
	s.from = from
	return nil
}

func (s *session) Rcpt(to string) error {
	if !relayconfig.ValidEmail(to) {
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient address",
		}
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	log := s.server.log.With("remote", s.remote, "user", s.user)

	msg, err := parse(r)
	if err != nil {
		metrics.SubmissionMessages.WithLabelValues("rejected").Inc()
		log.Infow("Rejected unparsable submission", "error", err)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}
	msg.From = s.from
	msg.Recipients = append([]string(nil), s.rcpts...)

	res := s.server.sender.Send(context.Background(), msg)
	if !res.OK {
		metrics.SubmissionMessages.WithLabelValues("failed").Inc()
		log.Warnw("Submitted message could not be delivered", "recipients", len(msg.Recipients), "error", res.ErrorMessage)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Delivery failed: " + truncate(res.ErrorMessage, maxReplyError),
		}
	}
	metrics.SubmissionMessages.WithLabelValues("delivered").Inc()
	log.Debugw("Submitted message delivered", "recipients", len(msg.Recipients), "relayed", res.Relayed)
	return nil
}

func (s *session) Reset() {
	s.rcpts = s.rcpts[:0]
	s.from = ""
}

func (s *session) Logout() error {
	return nil
}

// parse reads a submitted RFC 5322 message. Nothing of a multipart message is
// dropped: see collector for how the parts are mapped.
func parse(r io.Reader) (mail.Message, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return mail.Message{}, err
	}
	header := gomail.Header{Header: entity.Header}

	msg := mail.Message{Headers: map[string][]string{}}
	if msg.Subject, err = header.Subject(); err != nil {
		msg.Subject = header.Get("Subject")
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromName = from[0].Name
	}
	if id := header.Get(mail.AttemptHeader); id != "" {
		msg.AttemptID = id
	}
	fields := header.Fields()
	for fields.Next() {
		key := fields.Key()
		if strings.HasPrefix(strings.ToUpper(key), "X-") || strings.EqualFold(key, "Reply-To") {
			msg.Headers[key] = append(msg.Headers[key], fields.Value())
		}
	}

	c := &collector{msg: &msg}
	err = c.walk(entity)
	if !c.bodySet {
		msg.ContentType = "text/plain"
	}
	return msg, err
}

// collector spreads a MIME tree over a mail.Message. The first text part
// becomes the body, the renderings of a multipart/alternative become the body
// and its alternatives, and every other leaf is kept as an attachment.
type collector struct {
	msg           *mail.Message
	bodySet       bool
	inAlternative bool
	unnamed       int
}

func (c *collector) walk(e *message.Entity) error {
	mediaType, _, _ := e.Header.ContentType()
	if mr := e.MultipartReader(); mr != nil {
		if mediaType == "multipart/alternative" && !c.bodySet && !c.inAlternative {
			return c.alternative(mr)
		}
		return c.each(mr, c.walk)
	}
	if c.isText(e) && !c.bodySet && !c.inAlternative {
		b, err := io.ReadAll(e.Body)
		c.msg.ContentType, c.msg.Body, c.bodySet = textType(e), string(b), true
		return err
	}
	return c.attach(e)
}

func (c *collector) alternative(mr message.MultipartReader) error {
	c.inAlternative = true
	defer func() { c.inAlternative = false }()

	var renderings []mail.Part
	if err := c.each(mr, func(part *message.Entity) error {
		return c.rendering(part, &renderings)
	}); err != nil {
		return err
	}
	if len(renderings) == 0 {
		return nil
	}
	body := 0
	for i, r := range renderings {
		if r.ContentType == "text/plain" {
			body = i
			break
		}
	}
	c.msg.ContentType, c.msg.Body, c.bodySet = renderings[body].ContentType, renderings[body].Body, true
	for i, r := range renderings {
		if i != body {
			c.msg.Alternatives = append(c.msg.Alternatives, r)
		}
	}
	return nil
}

// rendering takes the first text leaf below part as one rendering. The rest,
// such as images of a multipart/related, become attachments.
func (c *collector) rendering(part *message.Entity, out *[]mail.Part) error {
	if mr := part.MultipartReader(); mr != nil {
		before := len(*out)
		return c.each(mr, func(child *message.Entity) error {
			if len(*out) == before {
				return c.rendering(child, out)
			}
			return c.walk(child)
		})
	}
	if !c.isText(part) {
		return c.attach(part)
	}
	b, err := io.ReadAll(part.Body)
	if err != nil {
		return err
	}
	*out = append(*out, mail.Part{ContentType: textType(part), Body: string(b)})
	return nil
}

func (c *collector) attach(e *message.Entity) error {
	data, err := io.ReadAll(e.Body)
	if err != nil {
		return err
	}
	mediaType, params, _ := e.Header.ContentType()
	disp, dparams, _ := e.Header.ContentDisposition()

	name := dparams["filename"]
	if name == "" {
		name = params["name"]
	}
	if name == "" {
		c.unnamed++
		name = fmt.Sprintf("part-%d%s", c.unnamed, extension(mediaType))
	}
	contentType := mediaType
	if strings.HasPrefix(mediaType, "text/") {
		// go-message already converted the text to UTF-8
		contentType = mediaType + "; charset=utf-8"
	} else if mediaType != "" {
		delete(params, "name")
		if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
			contentType = formatted
		}
	}
	contentID := strings.Trim(e.Header.Get("Content-Id"), "<> ")

	c.msg.Attachments = append(c.msg.Attachments, mail.Attachment{
		Filename:    name,
		ContentType: contentType,
		ContentID:   contentID,
		Inline:      contentID != "" && disp != "attachment",
		Data:        data,
	})
	return nil
}

func (c *collector) each(mr message.MultipartReader, fn func(*message.Entity) error) error {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return err
		}
		if err := fn(part); err != nil {
			return err
		}
	}
}

// isText reports whether e is a text part meant to be read as the message.
func (c *collector) isText(e *message.Entity) bool {
	mediaType, _, _ := e.Header.ContentType()
	if disp, _, _ := e.Header.ContentDisposition(); disp == "attachment" {
		return false
	}
	return mediaType == "" || mediaType == "text/plain" || mediaType == "text/html"
}

func textType(e *message.Entity) string {
	mediaType, _, _ := e.Header.ContentType()
	if mediaType == "" {
		return "text/plain"
	}
	return mediaType
}

func extension(mediaType string) string {
	switch mediaType {
	case "text/plain":
		return ".txt"
	case "text/html":
		return ".html"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// truncate collapses whitespace and cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
