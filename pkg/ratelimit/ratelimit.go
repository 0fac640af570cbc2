package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/smtp-relay/pkg/apiresponses"
	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Name labels the limiter in metrics.
	Name string
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// FromLimit builds a limiter config from a service config section.
func FromLimit(name string, l config.Limit) Config {
	return Config{
		Name:            name,
		Rate:            l.Rate,
		Burst:           l.Burst,
		CleanupInterval: time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// DefaultAPIConfig allows 20 req/s per caller with a burst of 50.
func DefaultAPIConfig() Config {
	return Config{
		Name:            "api",
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultTestEmailConfig allows one test email every five seconds with a
// burst of three. Every test email is a real delivery to an external host.
func DefaultTestEmailConfig() Config {
	return Config{
		Name:            "test_email",
		Rate:            0.2,
		Burst:           3,
		CleanupInterval: time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// entry holds rate limiter and last access time for a key
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per key (client IP or token subject) and
// drops buckets that have not been used for MaxAge.
type Limiter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	stop    sync.Once
}

// New creates a new keyed rate limiter with the given configuration
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	rl := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow reports whether a request for key may proceed now.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = time.Now()
	allowed := e.limiter.Allow()
	rl.mu.Unlock()

	if !allowed {
		metrics.RateLimited.WithLabelValues(rl.config.Name).Inc()
	}
	return allowed
}

// RetryAfter is the suggested wait before the next request, in whole seconds.
func (rl *Limiter) RetryAfter() int {
	if rl.config.Rate <= 0 {
		return 60
	}
	secs := int(1 / rl.config.Rate)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Middleware limits requests per client IP.
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return rl.KeyedMiddleware("")
}

// KeyedMiddleware limits requests per value of the gin context key, e.g. the
// token subject set by the auth middleware. Requests without the key are
// limited per client IP.
func (rl *Limiter) KeyedMiddleware(contextKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if contextKey != "" {
			if v, ok := c.Get(contextKey); ok {
				if s, ok := v.(string); ok && s != "" {
					key = s
				}
			}
		}
		if !rl.Allow(key) {
			Reject(c, rl.RetryAfter())
			return
		}
		c.Next()
	}
}

// Reject writes the 429 response and aborts the chain.
func Reject(c *gin.Context, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, apiresponses.APIError{
		Error: "Rate limit exceeded, please try again later",
		Code:  "RATE_LIMITED",
	})
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *Limiter) Stop() {
	rl.stop.Do(func() { close(rl.done) })
}

// cleanup periodically removes stale entries
func (rl *Limiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked keys (for testing/metrics)
func (rl *Limiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration (for testing)
func (rl *Limiter) Config() Config {
	return rl.config
}
