// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package relayconfig

import (
	"net/mail"
	"strconv"
	"strings"
)

// Encryption selects how the connection to the relay is secured.
type Encryption string

const (
	EncryptionNone Encryption = "none"
	// EncryptionSSL is implicit TLS from the first byte (SMTPS, usually port 465).
	EncryptionSSL Encryption = "ssl"
	// EncryptionTLS is a plaintext connection upgraded with STARTTLS.
	EncryptionTLS Encryption = "tls"
)

const (
	DefaultPort          = 587
	DefaultEncryption    = EncryptionTLS
	DefaultRetentionDays = 30
)

// Form keys accepted by Sanitize.
const (
	KeyHost          = "smtp_host"
	KeyPort          = "smtp_port"
	KeyEncryption    = "smtp_encryption"
	KeyAuth          = "smtp_auth"
	KeyUsername      = "smtp_username"
	KeyPassword      = "smtp_password"
	KeyFromAddress   = "from_email"
	KeyFromName      = "from_name"
	KeyLogging       = "enable_logging"
	KeyRetentionDays = "log_retention_days"
)

// RelayConfig is the sanitized relay configuration. An empty Host disables the
// relay and sends through the default mail path.
type RelayConfig struct {
	Host           string     `json:"host" yaml:"host"`
	Port           int        `json:"port" yaml:"port"`
	Encryption     Encryption `json:"encryption" yaml:"encryption"`
	AuthEnabled    bool       `json:"authEnabled" yaml:"authEnabled"`
	Username       string     `json:"username" yaml:"username"`
	Password       string     `json:"password,omitempty" yaml:"password,omitempty"`
	FromAddress    string     `json:"fromAddress" yaml:"fromAddress"`
	FromName       string     `json:"fromName" yaml:"fromName"`
	LoggingEnabled bool       `json:"loggingEnabled" yaml:"loggingEnabled"`
	RetentionDays  int        `json:"retentionDays" yaml:"retentionDays"`
}

// Identity is the default sender used when no from address is configured.
type Identity struct {
	Address string
	Name    string
}

// RawInput holds unvalidated admin form values keyed by the Key* constants.
type RawInput map[string]string

// Defaults returns the configuration used before an administrator saved anything.
func Defaults(id Identity) RelayConfig {
	return RelayConfig{
		Port:           DefaultPort,
		Encryption:     DefaultEncryption,
		AuthEnabled:    true,
		FromAddress:    id.Address,
		FromName:       id.Name,
		LoggingEnabled: true,
		RetentionDays:  DefaultRetentionDays,
	}
}

// RelayEnabled reports whether sends are routed through the configured relay.
func (c RelayConfig) RelayEnabled() bool {
	return c.Host != ""
}

// Authenticates reports whether the dispatcher will authenticate against the relay.
func (c RelayConfig) Authenticates() bool {
	return c.AuthEnabled && c.Username != ""
}

// Redacted returns a copy safe to hand to API clients.
func (c RelayConfig) Redacted() RelayConfig {
	if c.Password != "" {
		c.Password = PasswordMask
	}
	return c
}

// ToRaw renders the config back into form values. Sanitize(ToRaw(c), ...) == c
// for every sanitized c.
func (c RelayConfig) ToRaw() RawInput {
	return RawInput{
		KeyHost:          c.Host,
		KeyPort:          strconv.Itoa(c.Port),
		KeyEncryption:    string(c.Encryption),
		KeyAuth:          formatBool(c.AuthEnabled),
		KeyUsername:      c.Username,
		KeyPassword:      c.Password,
		KeyFromAddress:   c.FromAddress,
		KeyFromName:      c.FromName,
		KeyLogging:       formatBool(c.LoggingEnabled),
		KeyRetentionDays: strconv.Itoa(c.RetentionDays),
	}
}

// Sanitize turns raw form input into a RelayConfig. Each field is handled on
// its own and missing or unusable values fall back to base, so it never fails.
// The auth and logging keys are checkboxes: an absent key means unticked.
func Sanitize(raw RawInput, base RelayConfig) RelayConfig {
	out := base

	if v, ok := raw[KeyHost]; ok {
		out.Host = sanitizeText(v)
	}
	if v, ok := raw[KeyPort]; ok {
		out.Port = sanitizePort(v)
	}
	if out.Port < 1 || out.Port > 65535 {
		out.Port = DefaultPort
	}
	if v, ok := raw[KeyEncryption]; ok {
		out.Encryption = ParseEncryption(v)
	}
	if !out.Encryption.Valid() {
		out.Encryption = DefaultEncryption
	}
	out.AuthEnabled = parseBool(raw[KeyAuth])
	if v, ok := raw[KeyUsername]; ok {
		out.Username = sanitizeText(v)
	}
	if v, ok := raw[KeyPassword]; ok {
		out.Password = v
	}
	if v, ok := raw[KeyFromAddress]; ok {
		if addr, valid := sanitizeEmail(v); valid {
			out.FromAddress = addr
		}
	}
	if v, ok := raw[KeyFromName]; ok {
		out.FromName = sanitizeText(v)
	}
	out.LoggingEnabled = parseBool(raw[KeyLogging])
	if v, ok := raw[KeyRetentionDays]; ok {
		out.RetentionDays = absInt(v)
	}
	if out.RetentionDays < 1 {
		out.RetentionDays = 1
	}
	return out
}

// ParseEncryption maps user input onto an Encryption mode; unknown values become tls.
func ParseEncryption(v string) Encryption {
	e := Encryption(strings.ToLower(strings.TrimSpace(v)))
	if !e.Valid() {
		return DefaultEncryption
	}
	return e
}

func (e Encryption) Valid() bool {
	switch e {
	case EncryptionNone, EncryptionSSL, EncryptionTLS:
		return true
	}
	return false
}

// ValidEmail reports whether v is a single bare address such as a@example.com.
func ValidEmail(v string) bool {
	_, ok := sanitizeEmail(v)
	return ok
}

func sanitizeEmail(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return "", false
	}
	at := strings.LastIndex(v, "@")
	if at < 1 || !strings.Contains(v[at+1:], ".") {
		return "", false
	}
	return v, true
}

// sanitizeText strips control characters and collapses surrounding whitespace.
func sanitizeText(v string) string {
	v = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, v)
	return strings.Join(strings.Fields(v), " ")
}

func sanitizePort(v string) int {
	p := absInt(v)
	if p < 1 || p > 65535 {
		return DefaultPort
	}
	return p
}

// absInt parses the leading integer of v and returns its absolute value, 0 when none.
func absInt(v string) int {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && (v[end] >= '0' && v[end] <= '9' || end == 0 && (v[end] == '-' || v[end] == '+')) {
		end++
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0
	}
	if n < 0 {
		return -n
	}
	return n
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "off", "no":
		return false
	}
	return true
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
