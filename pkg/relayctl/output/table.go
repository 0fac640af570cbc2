package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

// SetColor applies the color setting: "always", "never" or "auto".
func SetColor(mode string) {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	}
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

func WriteLogTable(w io.Writer, logs []maillog.Attempt) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ID\tTIME\tRECIPIENT\tSUBJECT\tSTATUS\tERROR")
	for _, l := range logs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, formatTime(l.Timestamp), l.Recipient, truncate(l.Subject, 40), formatStatus(l.Status), dash(truncate(l.ErrorMessage, 60)))
	}
	_ = tw.Flush()
}

func WritePresetTable(w io.Writer, presets []relayconfig.Preset) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "NAME\tLABEL\tHOST\tPORT\tENCRYPTION\tNOTES")
	for _, p := range presets {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", p.Name, p.Label, dash(p.Host), p.Port, p.Encryption, dash(p.Notes))
	}
	_ = tw.Flush()
}

// WriteConfig prints the relay config as key/value rows. The password is
// expected to be masked by the server already.
func WriteConfig(w io.Writer, cfg relayconfig.RelayConfig) {
	tw := newTabWriter(w)
	rows := [][2]string{
		{"Host", dash(cfg.Host)},
		{"Port", strconv.Itoa(cfg.Port)},
		{"Encryption", string(cfg.Encryption)},
		{"Authentication", formatEnabled(cfg.AuthEnabled)},
		{"Username", dash(cfg.Username)},
		{"Password", dash(cfg.Password)},
		{"From address", dash(cfg.FromAddress)},
		{"From name", dash(cfg.FromName)},
		{"Logging", formatEnabled(cfg.LoggingEnabled)},
		{"Retention days", strconv.Itoa(cfg.RetentionDays)},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
	}
	_ = tw.Flush()
}

func formatStatus(s maillog.Status) string {
	switch s {
	case maillog.StatusSuccess:
		return green(string(s))
	case maillog.StatusFailed:
		return red(string(s))
	default:
		return yellow(string(s))
	}
}

func formatEnabled(b bool) string {
	if b {
		return green("enabled")
	}
	return yellow("disabled")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
