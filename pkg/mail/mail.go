package mail

import (
	"io"
	"sort"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/telekom/smtp-relay/pkg/relayconfig"
)

// AttemptHeader carries the pipeline attempt ID so host failure reports can be
// matched to the attempt that produced them.
const AttemptHeader = "X-Relay-Attempt-Id"

const defaultContentType = "text/plain"

// Message is an outgoing mail as handed over by the application.
type Message struct {
	From         string              `json:"from,omitempty"`
	FromName     string              `json:"fromName,omitempty"`
	Recipients   []string            `json:"recipients"`
	Subject      string              `json:"subject"`
	Body         string              `json:"body"`
	ContentType  string              `json:"contentType,omitempty"`
	// Alternatives are further renderings of Body, such as text/html next to text/plain.
	Alternatives []Part              `json:"alternatives,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	Headers      map[string][]string `json:"headers,omitempty"`
	AttemptID    string              `json:"-"`
}

type Part struct {
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
}

// Attachment is a file carried along with the message. Inline attachments are
// embedded and referenced by ContentID from an HTML part.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	ContentID   string `json:"contentId,omitempty"`
	Inline      bool   `json:"inline,omitempty"`
	Data        []byte `json:"data"`
}

// Result is the outcome of a single dispatch.
type Result struct {
	OK           bool   `json:"ok"`
	Transcript   string `json:"transcript,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Relayed is false when the message went through the default sender.
	Relayed bool `json:"relayed"`
}

// sender picks the envelope and header sender: the relay config wins, then the
// message, then the service identity.
func sender(msg Message, cfg relayconfig.RelayConfig, id relayconfig.Identity) (address, name string) {
	switch {
	case cfg.FromAddress != "":
		return cfg.FromAddress, cfg.FromName
	case msg.From != "":
		return msg.From, msg.FromName
	}
	return id.Address, id.Name
}

// compose builds the MIME message. Recipients go to the To header.
func compose(msg Message, from, fromName string) *gomail.Message {
	m := gomail.NewMessage()

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch strings.ToLower(k) {
		case "from", "to", "subject", "content-type", strings.ToLower(AttemptHeader):
			continue
		}
		m.SetHeader(k, msg.Headers[k]...)
	}

	if fromName != "" {
		m.SetAddressHeader("From", from, fromName)
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	if msg.AttemptID != "" {
		m.SetHeader(AttemptHeader, msg.AttemptID)
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	m.SetBody(contentType, msg.Body)
	for _, alt := range msg.Alternatives {
		m.AddAlternative(alt.ContentType, alt.Body)
	}
	for _, a := range msg.Attachments {
		data := a.Data
		header := map[string][]string{}
		if a.ContentType != "" {
			header["Content-Type"] = []string{a.ContentType}
		}
		if a.ContentID != "" {
			header["Content-ID"] = []string{"<" + a.ContentID + ">"}
		}
		settings := []gomail.FileSetting{
			gomail.SetHeader(header),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.Inline {
			m.Embed(a.Filename, settings...)
		} else {
			m.Attach(a.Filename, settings...)
		}
	}
	return m
}
