package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/smtp-relay/pkg/api"
	"github.com/telekom/smtp-relay/pkg/cli"
	"github.com/telekom/smtp-relay/pkg/config"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/metrics"
	"github.com/telekom/smtp-relay/pkg/pipeline"
	"github.com/telekom/smtp-relay/pkg/ratelimit"
	"github.com/telekom/smtp-relay/pkg/retention"
	"github.com/telekom/smtp-relay/pkg/submission"
	"github.com/telekom/smtp-relay/pkg/system"
	"github.com/telekom/smtp-relay/pkg/version"
)

func main() {
	flags := cli.Parse()

	zl, err := system.NewLogger(flags.Debug, system.LogFileOptions{Path: flags.LogFile})
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.Infow("Starting smtp relay", version.LogFields()...)
	flags.Print(log)

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Error loading relay config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, flags, cfg); err != nil {
		log.Fatalf("Relay stopped with error: %v", err)
	}
	log.Info("Relay stopped")
}

func run(ctx context.Context, log *zap.SugaredLogger, flags *cli.Config, cfg config.Config) error {
	identity := senderIdentity(cfg.Fallback)

	configs, err := openConfigStore(cfg.Storage, identity)
	if err != nil {
		return err
	}
	defer func() { _ = configs.Close() }()
	if err := configs.Init(ctx); err != nil {
		return err
	}

	logs, err := openMailLog(log, cfg.Storage)
	if err != nil {
		log.Errorw("Email log unavailable, keeping records in memory until restart", "driver", cfg.Storage.Driver, "error", err)
		logs = maillog.NewMemoryRepository()
	}
	defer func() { _ = logs.Close() }()
	// The SQL repository retries schema creation on the first write.
	if err := logs.EnsureSchema(ctx); err != nil {
		log.Warnw("Could not create email log schema", "error", err)
	}

	auditor, err := newAuditTrail(log.Desugar(), cfg.Audit)
	if err != nil {
		return err
	}
	defer func() { _ = auditor.Close() }()

	fallback, err := newDefaultSender(ctx, log, cfg.Fallback)
	if err != nil {
		return err
	}
	log.Infow("Default sender ready", "provider", fallback.Name())

	dispatcher := mail.NewDispatcher(log, fallback, mail.Options{
		Timeout:              cfg.Relay.GetTimeout(),
		LocalName:            cfg.Relay.LocalName,
		InsecureSkipVerify:   cfg.Relay.InsecureSkipVerify,
		CertificateAuthority: cfg.Relay.CertificateAuthority,
		Identity:             identity,
	})
	p := pipeline.New(log, configs, dispatcher, logs, auditor, pipeline.Options{})

	templates, err := mail.NewTestEmailTemplates(cfg.TestEmail.Subject, cfg.TestEmail.Body)
	if err != nil {
		return err
	}

	auth, err := api.NewAuth(log, cfg.Auth, auditor)
	if err != nil {
		return err
	}
	server := api.NewServer(log.Desugar(), cfg, flags.Debug, auth)
	defer server.Close()

	testLimiter := ratelimit.New(ratelimit.FromLimit("test_email", cfg.RateLimit.TestEmail))
	defer testLimiter.Stop()

	err = server.RegisterAll([]api.APIController{
		api.NewRelayController(log, api.RelayControllerOptions{
			Store:       configs,
			Logs:        logs,
			Sender:      p,
			Templates:   templates,
			SiteName:    cfg.TestEmail.SiteName,
			Auth:        auth,
			Auditor:     auditor,
			TestLimiter: testLimiter,
		}),
		api.NewMailController(log, p),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Listen(gctx, flags.EnableHTTP2) })

	if !flags.DisableRetention {
		interval := cli.ParseRetentionInterval(flags.RetentionInterval, cfg.Retention.GetInterval(), log)
		routine := retention.New(log, configs, logs, auditor, interval)
		routine.Start(gctx)
		defer routine.Stop()
	}

	if cfg.Submission.ListenAddress != "" && !flags.DisableSubmission {
		smtpServer, err := submission.New(log, cfg.Submission, p, auditor)
		if err != nil {
			return err
		}
		g.Go(func() error { return smtpServer.Listen(gctx) })
	}

	if flags.MetricsAddr != "" && flags.MetricsAddr != "0" {
		g.Go(func() error { return serveMetrics(gctx, log, flags.MetricsAddr) })
	}

	return g.Wait()
}

func serveMetrics(ctx context.Context, log *zap.SugaredLogger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Starting metrics server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
