package mail

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

const (
	DefaultTestSubject = "SMTP Test Email"
	DefaultTestBody    = "This is a test email sent from your {{ .Site }} SMTP configuration. " +
		"If you received this email, your SMTP settings are working correctly!"
)

// TestEmailParams is the template context of the test email.
type TestEmailParams struct {
	Site      string
	Recipient string
	SentAt    time.Time
}

// TestEmailTemplates renders the administrator test email. Templates may use
// sprig functions, e.g. {{ .SentAt | date "2006-01-02" }}.
type TestEmailTemplates struct {
	subject *template.Template
	body    *template.Template
}

// NewTestEmailTemplates parses the given templates, empty strings select the defaults.
func NewTestEmailTemplates(subject, body string) (*TestEmailTemplates, error) {
	if subject == "" {
		subject = DefaultTestSubject
	}
	if body == "" {
		body = DefaultTestBody
	}
	s, err := template.New("subject").Funcs(sprig.TxtFuncMap()).Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to parse test email subject: %w", err)
	}
	b, err := template.New("body").Funcs(sprig.TxtFuncMap()).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse test email body: %w", err)
	}
	return &TestEmailTemplates{subject: s, body: b}, nil
}

// Message renders the test email for the given recipient.
func (t *TestEmailTemplates) Message(p TestEmailParams) (Message, error) {
	subject, err := render(t.subject, p)
	if err != nil {
		return Message{}, fmt.Errorf("failed to render test email subject: %w", err)
	}
	body, err := render(t.body, p)
	if err != nil {
		return Message{}, fmt.Errorf("failed to render test email body: %w", err)
	}
	return Message{
		Recipients:  []string{p.Recipient},
		Subject:     subject,
		Body:        body,
		ContentType: defaultContentType,
	}, nil
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}
