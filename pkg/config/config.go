package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is used when no config path is given.
const DefaultPath = "./config.yaml"

const (
	DefaultListenAddress     = ":8080"
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultShutdownTimeout   = 30 * time.Second

	DefaultRelayTimeout      = 30 * time.Second
	DefaultNonceTTL          = 12 * time.Hour
	DefaultRetentionInterval = 24 * time.Hour
	DefaultStorageDriver     = "sqlite3"
	DefaultStoragePath       = "./smtp-relay.db"
	DefaultConfigStorePath   = "./relay-config.db"
	DefaultSenderName        = "SMTP Relay"
	DefaultAdminGroup        = "smtp-relay-admins"
	DefaultFallbackProvider  = "mta"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRS to trust for X-Forwarded-For headers (e.g., ["10.0.0.0/8", "127.0.0.1"])
	// AllowedOrigins enables CORS for a browser based admin UI.
	AllowedOrigins  []string        `yaml:"allowedOrigins"`
	Timeouts        *ServerTimeouts `yaml:"timeouts"`
	ShutdownTimeout string          `yaml:"shutdownTimeout"`
}

// GetServerTimeouts never returns nil so the getters always yield defaults.
func (s Server) GetServerTimeouts() *ServerTimeouts {
	if s.Timeouts == nil {
		return &ServerTimeouts{}
	}
	return s.Timeouts
}

func (s Server) GetShutdownTimeout() time.Duration {
	return parseDurationOrDefault(s.ShutdownTimeout, DefaultShutdownTimeout)
}

// ServerTimeouts holds the HTTP server timeouts as duration strings
// ("30s", "2m"). Empty or invalid values fall back to the defaults.
type ServerTimeouts struct {
	ReadTimeout       string `yaml:"readTimeout"`
	ReadHeaderTimeout string `yaml:"readHeaderTimeout"`
	WriteTimeout      string `yaml:"writeTimeout"`
	IdleTimeout       string `yaml:"idleTimeout"`
	MaxHeaderBytes    int    `yaml:"maxHeaderBytes"`
}

// The getters are safe on a nil receiver.

func (t *ServerTimeouts) GetReadTimeout() time.Duration {
	if t == nil {
		return DefaultReadTimeout
	}
	return parseDurationOrDefault(t.ReadTimeout, DefaultReadTimeout)
}

func (t *ServerTimeouts) GetReadHeaderTimeout() time.Duration {
	if t == nil {
		return DefaultReadHeaderTimeout
	}
	return parseDurationOrDefault(t.ReadHeaderTimeout, DefaultReadHeaderTimeout)
}

func (t *ServerTimeouts) GetWriteTimeout() time.Duration {
	if t == nil {
		return DefaultWriteTimeout
	}
	return parseDurationOrDefault(t.WriteTimeout, DefaultWriteTimeout)
}

func (t *ServerTimeouts) GetIdleTimeout() time.Duration {
	if t == nil {
		return DefaultIdleTimeout
	}
	return parseDurationOrDefault(t.IdleTimeout, DefaultIdleTimeout)
}

func (t *ServerTimeouts) GetMaxHeaderBytes() int {
	if t == nil || t.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return t.MaxHeaderBytes
}

// Auth configures bearer token verification for the admin API. Tokens are
// verified with the HMAC secret, or against the JWKS endpoint when set.
type Auth struct {
	HMACSecret string `yaml:"hmacSecret"`
	JWKSURL    string `yaml:"jwksURL"`
	Issuer     string `yaml:"issuer"`
	// AdminGroup is the group claim value that grants relay administration.
	AdminGroup  string `yaml:"adminGroup"`
	GroupsClaim string `yaml:"groupsClaim"`
	// NonceTTL bounds the lifetime of anti-forgery tokens (e.g. "12h").
	NonceTTL string `yaml:"nonceTTL"`
	// CertificateAuthority is a PEM bundle trusted when fetching the JWKS.
	CertificateAuthority string `yaml:"certificateAuthority"`
	InsecureSkipVerify   bool   `yaml:"insecureSkipVerify"`
}

func (a Auth) GetNonceTTL() time.Duration {
	return parseDurationOrDefault(a.NonceTTL, DefaultNonceTTL)
}

type MySQL struct {
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Timeout  string `yaml:"timeout"`
}

// Storage selects where delivery attempts and the relay config live.
type Storage struct {
	// Driver is sqlite3, mysql or memory.
	Driver string `yaml:"driver"`
	// Path is the sqlite database file.
	Path  string `yaml:"path"`
	MySQL MySQL  `yaml:"mysql"`
	// ConfigPath is the bbolt file holding the relay configuration.
	ConfigPath string `yaml:"configPath"`
}

// Relay tunes the outbound SMTP client.
type Relay struct {
	Timeout   string `yaml:"timeout"`
	LocalName string `yaml:"localName"`
	// CertificateAuthority is a PEM bundle trusted in addition to the system pool.
	CertificateAuthority string `yaml:"certificateAuthority"`
	InsecureSkipVerify   bool   `yaml:"insecureSkipVerify"`
}

func (r Relay) GetTimeout() time.Duration {
	return parseDurationOrDefault(r.Timeout, DefaultRelayTimeout)
}

type MTA struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type SES struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// Fallback is the default mail path used while no relay host is configured.
type Fallback struct {
	// Provider is mta, ses or log.
	Provider string `yaml:"provider"`
	MTA      MTA    `yaml:"mta"`
	SES      SES    `yaml:"ses"`
	// SenderAddress and SenderName are the default sender identity.
	SenderAddress string `yaml:"senderAddress"`
	SenderName    string `yaml:"senderName"`
}

type TestEmail struct {
	Subject  string `yaml:"subject"`
	Body     string `yaml:"body"`
	SiteName string `yaml:"siteName"`
}

type Retention struct {
	Interval string `yaml:"interval"`
}

func (r Retention) GetInterval() time.Duration {
	return parseDurationOrDefault(r.Interval, DefaultRetentionInterval)
}

// Submission configures the optional SMTP listener applications submit mail to.
type Submission struct {
	ListenAddress string `yaml:"listenAddress"`
	Domain        string `yaml:"domain"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	// PasswordHash is a bcrypt hash used instead of Password.
	PasswordHash    string `yaml:"passwordHash"`
	TLSCertFile     string `yaml:"tlsCertFile"`
	TLSKeyFile      string `yaml:"tlsKeyFile"`
	MaxMessageBytes int    `yaml:"maxMessageBytes"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Kafka struct {
	Brokers     []string  `yaml:"brokers"`
	Topic       string    `yaml:"topic"`
	Compression string    `yaml:"compression"`
	TLS         KafkaTLS  `yaml:"tls"`
	SASL        KafkaSASL `yaml:"sasl"`
}

type Webhook struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
}

// Audit selects the sinks audit events are written to. The log sink is
// always active when audit is enabled.
type Audit struct {
	Enabled   bool    `yaml:"enabled"`
	QueueSize int     `yaml:"queueSize"`
	Kafka     Kafka   `yaml:"kafka"`
	Webhook   Webhook `yaml:"webhook"`
}

type Limit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type RateLimit struct {
	// API limits every authenticated request per subject.
	API Limit `yaml:"api"`
	// TestEmail limits test sends per subject.
	TestEmail Limit `yaml:"testEmail"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Auth       Auth       `yaml:"auth"`
	Storage    Storage    `yaml:"storage"`
	Relay      Relay      `yaml:"relay"`
	Fallback   Fallback   `yaml:"fallback"`
	TestEmail  TestEmail  `yaml:"testEmail"`
	Retention  Retention  `yaml:"retention"`
	Submission Submission `yaml:"submission"`
	Audit      Audit      `yaml:"audit"`
	RateLimit  RateLimit  `yaml:"rateLimit"`
}

// Load loads the relay service configuration from a file path.
// If configPath is empty, defaults to "./config.yaml".
func Load(configPath ...string) (Config, error) {
	path := DefaultPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open relay config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid relay config %s: %w", path, err)
	}
	return config, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Auth.AdminGroup == "" {
		c.Auth.AdminGroup = DefaultAdminGroup
	}
	if c.Auth.GroupsClaim == "" {
		c.Auth.GroupsClaim = "groups"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Storage.ConfigPath == "" {
		c.Storage.ConfigPath = DefaultConfigStorePath
	}
	if c.Fallback.Provider == "" {
		c.Fallback.Provider = DefaultFallbackProvider
	}
	if c.Fallback.MTA.Host == "" {
		c.Fallback.MTA.Host = "localhost"
	}
	if c.Fallback.MTA.Port == 0 {
		c.Fallback.MTA.Port = 25
	}
	if c.Fallback.SenderName == "" {
		c.Fallback.SenderName = DefaultSenderName
	}
	if c.TestEmail.SiteName == "" {
		c.TestEmail.SiteName = c.Fallback.SenderName
	}
	if c.Submission.Domain == "" {
		c.Submission.Domain = "localhost"
	}
	if c.Submission.MaxMessageBytes == 0 {
		c.Submission.MaxMessageBytes = 25 << 20
	}
	if c.Audit.Kafka.Topic == "" {
		c.Audit.Kafka.Topic = "smtp-relay-audit"
	}
	if c.RateLimit.API.Rate == 0 {
		c.RateLimit.API = Limit{Rate: 20, Burst: 50}
	}
	if c.RateLimit.TestEmail.Rate == 0 {
		c.RateLimit.TestEmail = Limit{Rate: 0.2, Burst: 3}
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var problems []string
	if c.Auth.HMACSecret == "" && c.Auth.JWKSURL == "" {
		problems = append(problems, "auth: one of hmacSecret or jwksURL is required")
	}
	switch c.Storage.Driver {
	case "sqlite3", "memory":
	case "mysql":
		if c.Storage.MySQL.Address == "" || c.Storage.MySQL.Database == "" {
			problems = append(problems, "storage.mysql: address and database are required")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver: unsupported driver %q", c.Storage.Driver))
	}
	switch c.Fallback.Provider {
	case "mta", "log":
	case "ses":
		if c.Fallback.SES.Region == "" {
			problems = append(problems, "fallback.ses.region is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("fallback.provider: unsupported provider %q", c.Fallback.Provider))
	}
	if c.Fallback.SenderAddress == "" {
		problems = append(problems, "fallback.senderAddress is required")
	}
	if (c.Submission.TLSCertFile == "") != (c.Submission.TLSKeyFile == "") {
		problems = append(problems, "submission: tlsCertFile and tlsKeyFile must be set together")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func parseDurationOrDefault(value string, defaultVal time.Duration) time.Duration {
	if value == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
