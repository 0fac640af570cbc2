package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/apiresponses"
	"github.com/telekom/smtp-relay/pkg/audit"
	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/system"
)

const (
	AuthHeaderKey  = "Authorization"
	NonceHeaderKey = "X-Relay-Nonce"
	// NonceFormKey is accepted for form posts that cannot set headers.
	NonceFormKey = "nonce"

	// SecurityCheckFailed is the only message returned for failed admin or
	// anti-forgery checks.
	SecurityCheckFailed = "Security check failed"

	nonceAudience = "smtp-relay-admin"
)

type AuthHandler struct {
	jwks       *keyfunc.JWKS
	hmacSecret []byte
	issuer     string

	groupsClaim string
	adminGroup  string

	nonceKey []byte
	nonceTTL time.Duration

	log     *zap.SugaredLogger
	auditor *audit.Trail
	now     func() time.Time
}

// NewAuth builds the bearer token verifier. Tokens are verified with the
// HMAC secret when one is configured, otherwise against the JWKS endpoint.
// auditor may be nil.
func NewAuth(log *zap.SugaredLogger, cfg config.Auth, auditor *audit.Trail) (*AuthHandler, error) {
	a := &AuthHandler{
		issuer:      cfg.Issuer,
		groupsClaim: cfg.GroupsClaim,
		adminGroup:  cfg.AdminGroup,
		nonceTTL:    cfg.GetNonceTTL(),
		log:         log.Named("auth"),
		auditor:     auditor,
		now:         time.Now,
	}
	if a.groupsClaim == "" {
		a.groupsClaim = "groups"
	}
	if a.adminGroup == "" {
		a.adminGroup = config.DefaultAdminGroup
	}

	if cfg.HMACSecret != "" {
		a.hmacSecret = []byte(cfg.HMACSecret)
		sum := sha256.Sum256([]byte("relay-nonce:" + cfg.HMACSecret))
		a.nonceKey = sum[:]
		return a, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate nonce key: %w", err)
	}
	a.nonceKey = key

	options := keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshTimeout:  time.Second * 10,
		RefreshErrorHandler: func(err error) {
			a.log.Errorf("failed to refresh JWKS configuration: %v", err)
		},
	}

	// TLS handling for JWKS fetch:
	// 1. If a CA PEM is provided, use it (strict validation).
	// 2. Else if InsecureSkipVerify is explicitly enabled, skip validation (dev/e2e only).
	// 3. Else rely on system roots (default production behavior).
	if cfg.CertificateAuthority != "" {
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM([]byte(cfg.CertificateAuthority)); !ok {
			return nil, errors.New("could not parse auth.certificateAuthority PEM")
		}
		transport := &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}
		options.Client = &http.Client{Transport: transport}
	} else if cfg.InsecureSkipVerify {
		transport := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec // Configurable for testing
		options.Client = &http.Client{Transport: transport}
		a.log.Warn("auth.insecureSkipVerify=true: TLS certificate verification is DISABLED (dev/e2e only)")
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, options)
	if err != nil {
		return nil, fmt.Errorf("could not get JWKS from %s: %w", cfg.JWKSURL, err)
	}
	a.jwks = jwks
	return a, nil
}

// Close stops the JWKS background refresh.
func (a *AuthHandler) Close() {
	if a != nil && a.jwks != nil {
		a.jwks.EndBackground()
	}
}

func (a *AuthHandler) keyFunc(token *jwt.Token) (interface{}, error) {
	if a.hmacSecret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.hmacSecret, nil
	}
	if a.jwks == nil {
		return nil, errors.New("no token verification key configured")
	}
	return a.jwks.Keyfunc(token)
}

// Middleware authenticates the bearer token and stores the caller identity
// in the gin context.
func (a *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apiresponses.RespondUnauthorizedWithMessage(c, "No Bearer token provided in Authorization header")
			c.Abort()
			return
		}
		bearer := authHeader[7:]

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(bearer, &claims, a.keyFunc)
		if err != nil && a.jwks != nil && strings.Contains(err.Error(), "key ID") {
			// Attempt single forced JWKS refresh if kid missing
			if rErr := a.jwks.Refresh(context.Background(), keyfunc.RefreshOptions{}); rErr == nil {
				token, err = jwt.ParseWithClaims(bearer, &claims, a.keyFunc)
			}
		}
		if err == nil && a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
			err = fmt.Errorf("unexpected token issuer")
		}
		if err != nil {
			a.log.Debugw("Rejected bearer token", "error", err, "clientIP", c.ClientIP())
			a.auditor.AuthFailure(c.Request.Context(), audit.Actor{SourceIP: c.ClientIP()}, "invalid bearer token")
			apiresponses.RespondUnauthorizedWithMessage(c, err.Error())
			c.Abort()
			return
		}

		subject, _ := claims["sub"].(string)
		email, _ := claims["email"].(string)
		groups := extractGroups(claims, a.groupsClaim)
		if len(groups) == 0 {
			// avoid logging tokens at info level; use debug for development troubleshooting
			a.log.Debugw("JWT parsed but no groups claim found", "sub", subject, "groupsClaim", a.groupsClaim)
		}

		c.Set("token", token)
		c.Set(system.SubjectKey, subject)
		c.Set(system.EmailKey, email)
		if len(groups) > 0 {
			c.Set(system.GroupsKey, groups)
		}
		c.Set(system.ReqLoggerKey, system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, a.log)))

		c.Next()
	}
}

// RequireAdmin rejects callers that are not members of the admin group.
func (a *AuthHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.IsAdmin(c) {
			a.deny(c, "missing admin group "+a.adminGroup)
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the authenticated caller holds the admin group.
func (a *AuthHandler) IsAdmin(c *gin.Context) bool {
	for _, g := range c.GetStringSlice(system.GroupsKey) {
		if g == a.adminGroup {
			return true
		}
	}
	return false
}

// RequireNonce rejects state changing requests without a valid anti-forgery
// token for the caller.
func (a *AuthHandler) RequireNonce() gin.HandlerFunc {
	return func(c *gin.Context) {
		nonce := c.GetHeader(NonceHeaderKey)
		if nonce == "" {
			nonce = c.PostForm(NonceFormKey)
		}
		if err := a.VerifyNonce(nonce, c.GetString(system.SubjectKey)); err != nil {
			a.deny(c, "anti-forgery token: "+err.Error())
			return
		}
		c.Next()
	}
}

func (a *AuthHandler) deny(c *gin.Context, reason string) {
	system.GetReqLogger(c, a.log).Infow("Denied admin request", "reason", reason, "path", c.FullPath())
	a.auditor.AuthFailure(c.Request.Context(), actorFromContext(c), reason)
	apiresponses.RespondForbidden(c, SecurityCheckFailed)
	c.Abort()
}

// IssueNonce returns an anti-forgery token bound to subject.
func (a *AuthHandler) IssueNonce(subject string) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.nonceTTL)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{nonceAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.nonceKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign nonce: %w", err)
	}
	return signed, expires, nil
}

// VerifyNonce checks that nonce was issued by this handler to subject and has
// not expired.
func (a *AuthHandler) VerifyNonce(nonce, subject string) error {
	if nonce == "" {
		return errors.New("missing")
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(nonce, claims, func(*jwt.Token) (interface{}, error) {
		return a.nonceKey, nil
	}); err != nil {
		return err
	}
	if !claims.VerifyAudience(nonceAudience, true) {
		return errors.New("wrong audience")
	}
	if claims.Subject != subject {
		return errors.New("issued to another subject")
	}
	return nil
}

// extractGroups reads the configured groups claim, falling back to Keycloak's
// realm_access.roles. Names are normalized: leading slashes are stripped and
// nested paths reduced to their final segment.
func extractGroups(claims jwt.MapClaims, claimName string) []string {
	var raw []string
	if rawGroups, ok := claims[claimName]; ok {
		raw = stringList(rawGroups)
	} else if rawRealm, ok := claims["realm_access"].(map[string]interface{}); ok {
		raw = stringList(rawRealm["roles"])
	}

	seen := make(map[string]struct{}, len(raw))
	groups := make([]string, 0, len(raw))
	for _, g := range raw {
		g = strings.TrimLeft(strings.TrimSpace(g), "/")
		if idx := strings.LastIndex(g, "/"); idx != -1 && idx < len(g)-1 {
			g = g[idx+1:]
		}
		if g == "" {
			continue
		}
		if _, exists := seen[g]; exists {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	return groups
}

func stringList(v interface{}) []string {
	switch g := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(g))
		for _, item := range g {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return g
	case string:
		if g != "" {
			return []string{g}
		}
	}
	return nil
}

func actorFromContext(c *gin.Context) audit.Actor {
	user := c.GetString(system.EmailKey)
	if user == "" {
		user = c.GetString(system.SubjectKey)
	}
	return audit.Actor{Subject: user, SourceIP: c.ClientIP()}
}
