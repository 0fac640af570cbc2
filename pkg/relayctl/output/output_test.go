package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
)

func init() {
	color.NoColor = true
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "table", want: FormatTable},
		{in: "json", want: FormatJSON},
		{in: "yaml", want: FormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteObject(t *testing.T) {
	obj := relayconfig.RelayConfig{Host: "smtp.example.com", Port: 587, Encryption: relayconfig.EncryptionTLS}

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, obj))
	assert.Contains(t, buf.String(), `"host": "smtp.example.com"`)

	buf.Reset()
	require.NoError(t, WriteObject(&buf, FormatYAML, obj))
	assert.Contains(t, buf.String(), "host: smtp.example.com")
	assert.Contains(t, buf.String(), "port: 587")

	require.Error(t, WriteObject(&buf, FormatTable, obj))
	require.Error(t, WriteObject(&buf, Format("xml"), obj))
}

func TestWriteLogTable(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	WriteLogTable(&buf, []maillog.Attempt{
		{ID: 2, Timestamp: ts, Recipient: "ops@example.com", Subject: "Weekly report", Status: maillog.StatusSuccess},
		{ID: 1, Timestamp: ts, Recipient: "dev@example.com", Subject: strings.Repeat("x", 60), Status: maillog.StatusFailed, ErrorMessage: "550 mailbox\nunavailable"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RECIPIENT")
	assert.Contains(t, lines[1], "2026-03-01T12:00:00Z")
	assert.Contains(t, lines[1], "success")
	assert.Contains(t, lines[2], "550 mailbox unavailable")
	assert.Contains(t, lines[2], strings.Repeat("x", 37)+"...")
}

func TestWritePresetTable(t *testing.T) {
	var buf bytes.Buffer
	WritePresetTable(&buf, relayconfig.Presets())
	out := buf.String()
	for _, p := range relayconfig.Presets() {
		assert.Contains(t, out, p.Name)
	}
}

func TestWriteConfig(t *testing.T) {
	var buf bytes.Buffer
	WriteConfig(&buf, relayconfig.RelayConfig{Host: "smtp.example.com", Port: 465, AuthEnabled: true, Password: relayconfig.PasswordMask, RetentionDays: 30})
	out := buf.String()
	assert.Contains(t, out, "smtp.example.com")
	assert.Contains(t, out, "465")
	assert.Contains(t, out, "enabled")
	assert.Contains(t, out, relayconfig.PasswordMask)
	assert.Regexp(t, `Username:\s+-`, out)
}

func TestSetColor(t *testing.T) {
	t.Cleanup(func() { color.NoColor = true })
	SetColor("always")
	assert.False(t, color.NoColor)
	SetColor("auto")
	assert.False(t, color.NoColor)
	SetColor("never")
	assert.True(t, color.NoColor)
}
