package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/cli"
	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/ratelimit"
	"github.com/telekom/smtp-relay/pkg/system"
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin    *gin.Engine
	config config.Config
	auth   *AuthHandler
	log    *zap.SugaredLogger

	apiRateLimiter *ratelimit.Limiter
	httpServer     *http.Server
}

// NewServer builds the gin engine with access logging, panic recovery, CORS
// for the configured origins and the per caller API rate limit.
func NewServer(log *zap.Logger, cfg config.Config, debug bool, auth *AuthHandler) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			log.Warn("Invalid trustedProxies, trusting none", zap.Error(err))
			_ = engine.SetTrustedProxies(nil)
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	if len(cfg.Server.AllowedOrigins) > 0 {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: cfg.Server.AllowedOrigins,
				AllowMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type", NonceHeaderKey},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	sugar := log.Sugar()
	engine.Use(func(c *gin.Context) {
		c.Set(system.ReqLoggerKey, sugar.With("path", c.Request.URL.Path, "method", c.Request.Method))
		c.Next()
	})

	s := &Server{
		gin:            engine,
		config:         cfg,
		auth:           auth,
		log:            sugar,
		apiRateLimiter: ratelimit.New(ratelimit.FromLimit("api", cfg.RateLimit.API)),
	}

	engine.GET("healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return s
}

// RegisterAll mounts the controllers below /api. Every controller route is
// authenticated and rate limited per token subject.
func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	if s.auth != nil {
		r.Use(s.auth.Middleware())
	}
	r.Use(s.apiRateLimiter.KeyedMiddleware(system.SubjectKey))
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Listen(ctx context.Context, enableHTTP2 bool) error {
	timeouts := s.config.Server.GetServerTimeouts()
	s.httpServer = &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.gin,
		ReadTimeout:       timeouts.GetReadTimeout(),
		ReadHeaderTimeout: timeouts.GetReadHeaderTimeout(),
		WriteTimeout:      timeouts.GetWriteTimeout(),
		IdleTimeout:       timeouts.GetIdleTimeout(),
		MaxHeaderBytes:    timeouts.GetMaxHeaderBytes(),
	}
	useTLS := s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != ""
	if useTLS {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		if !enableHTTP2 {
			cli.DisableHTTP2(s.httpServer.TLSConfig)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Starting API server", "address", s.httpServer.Addr, "tls", useTLS)
		var err error
		if useTLS {
			err = s.httpServer.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.GetShutdownTimeout())
	defer cancel()
	s.log.Info("Shutting down API server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// Close stops the background rate limiter and JWKS refresh goroutines.
func (s *Server) Close() {
	if s.apiRateLimiter != nil {
		s.apiRateLimiter.Stop()
	}
	s.auth.Close()
}
