// Package retention prunes the delivery log on a schedule using the retention
// period stored in the relay config.
package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/audit"
	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/metrics"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
)

// Routine periodically removes delivery attempts older than the configured
// number of days.
type Routine struct {
	log      *zap.SugaredLogger
	configs  relayconfig.Store
	logs     maillog.Repository
	auditor  *audit.Trail
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a routine. auditor may be nil.
func New(log *zap.SugaredLogger, configs relayconfig.Store, logs maillog.Repository, auditor *audit.Trail, interval time.Duration) *Routine {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Routine{
		log:      log.Named("retention"),
		configs:  configs,
		logs:     logs,
		auditor:  auditor,
		interval: interval,
	}
}

// Start runs a prune immediately and then once per interval until ctx is
// cancelled or Stop is called. Starting a running routine is a no-op.
func (r *Routine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.log.Infow("Scheduled delivery log retention", "interval", r.interval.String())
}

// Stop unschedules the routine and waits for a running prune to finish.
func (r *Routine) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("Stopped delivery log retention")
}

func (r *Routine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		_, _ = r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce prunes with the retention period currently stored and returns the
// number of removed records.
func (r *Routine) RunOnce(ctx context.Context) (int64, error) {
	cfg, err := r.configs.Get(ctx)
	if err != nil {
		r.log.Warnw("Failed to read relay config, skipping retention run", "error", err)
		return 0, err
	}
	days := cfg.RetentionDays
	if days < 1 {
		days = relayconfig.DefaultRetentionDays
	}

	r.log.Debugw("Running delivery log retention", "retentionDays", days)
	deleted, err := r.logs.PruneOlderThan(ctx, days)
	if err != nil {
		r.log.Errorw("Failed to prune delivery log", "retentionDays", days, "error", err)
		return 0, err
	}
	metrics.LogRecordsPruned.Add(float64(deleted))
	r.auditor.LogPruned(ctx, days, deleted)
	if deleted > 0 {
		r.log.Infow("Pruned delivery log", "retentionDays", days, "deleted", deleted)
	}
	return deleted, nil
}
