// Package transcript collects the SMTP conversation of a single delivery
// attempt. A Capture is handed to the SMTP client as its debug writer and
// drained once when the attempt is recorded.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// TimeLayout prefixes every recorded line.
const TimeLayout = "2006-01-02 15:04:05"

const redacted = "[redacted]"

// Capture is safe for concurrent use. The zero value is not usable, use New.
type Capture struct {
	mu      sync.Mutex
	now     func() time.Time
	lines   []string
	partial strings.Builder
	// challenged is set after a 334 reply, the next line is a credential.
	challenged bool
}

func New() *Capture {
	return &Capture{now: time.Now}
}

// NewWithClock returns a Capture that stamps lines with the given clock.
func NewWithClock(now func() time.Time) *Capture {
	return &Capture{now: now}
}

// Record appends a single line. Embedded line breaks split it.
func (c *Capture) Record(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range strings.Split(strings.ReplaceAll(line, "\r\n", "\n"), "\n") {
		c.appendLocked(l)
	}
}

// Write implements io.Writer. Bytes are buffered until a line break.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			c.appendLocked(c.partial.String())
			c.partial.Reset()
			continue
		}
		c.partial.WriteByte(b)
	}
	return len(p), nil
}

// Drain returns everything captured so far and resets the buffer.
func (c *Capture) Drain() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.partial.Len() > 0 {
		c.appendLocked(c.partial.String())
		c.partial.Reset()
	}
	out := strings.Join(c.lines, "\n")
	c.lines = nil
	c.challenged = false
	return out
}

// Len reports the number of complete lines held.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Capture) appendLocked(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	line = c.redactLocked(line)
	c.lines = append(c.lines, c.now().Format(TimeLayout)+" "+line)
}

func (c *Capture) redactLocked(line string) string {
	if c.challenged {
		c.challenged = false
		if !isReply(line) {
			return redacted
		}
	}
	if strings.HasPrefix(line, "334") {
		c.challenged = true
		return line
	}
	if len(line) > 5 && strings.EqualFold(line[:5], "AUTH ") {
		fields := strings.Fields(line)
		if len(fields) > 2 {
			return fields[0] + " " + fields[1] + " " + redacted
		}
	}
	return line
}

// isReply reports whether line looks like a server reply ("250 ok", "250-SIZE").
func isReply(line string) bool {
	if len(line) < 4 {
		return len(line) == 3 && isDigits(line)
	}
	return isDigits(line[:3]) && (line[3] == ' ' || line[3] == '-')
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
