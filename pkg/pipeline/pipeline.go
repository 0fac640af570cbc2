// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/audit"
	"github.com/telekom/smtp-relay/pkg/mail"
	"github.com/telekom/smtp-relay/pkg/maillog"
	"github.com/telekom/smtp-relay/pkg/metrics"
	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/transcript"
)

const (
	// DefaultRecordedWindow is how long recorded attempt IDs are remembered
	// so late host callbacks are recognized as duplicates.
	DefaultRecordedWindow = 15 * time.Minute

	UnknownRecipient   = "Unknown"
	UnknownSubject     = "Email Failed"
	unknownHostFailure = "unknown error"
)

// State is the position of an attempt in the pipeline.
type State int32

const (
	Idle State = iota
	Dispatching
	Recording
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Recording:
		return "recording"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Dispatcher performs the physical send of one attempt.
type Dispatcher interface {
	Send(ctx context.Context, msg mail.Message, cfg relayconfig.RelayConfig, capture *transcript.Capture) mail.Result
}

// Attempt is one message on its way through the pipeline: the configured
// client handed to the host between BeforeSend and Dispatch.
type Attempt struct {
	ID        string
	Message   mail.Message
	Config    relayconfig.RelayConfig
	Capture   *transcript.Capture
	StartedAt time.Time

	state      atomic.Int32
	recordOnce sync.Once
}

func (a *Attempt) State() State {
	return State(a.state.Load())
}

// HostFailure is a failure reported by the host's mail layer outside of
// Dispatch.
type HostFailure struct {
	AttemptID  string   `json:"attemptId,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Error      string   `json:"error"`
}

// Options tune the pipeline.
type Options struct {
	// Defaults are used when the config store cannot be read.
	Defaults relayconfig.RelayConfig
	// RecordedWindow defaults to DefaultRecordedWindow.
	RecordedWindow time.Duration
}

// Pipeline orchestrates every outgoing message: it reads the relay config,
// drives the dispatcher and records the outcome exactly once.
type Pipeline struct {
	log        *zap.SugaredLogger
	configs    relayconfig.Store
	dispatcher Dispatcher
	logs       maillog.Repository
	auditor    audit.Emitter
	defaults   relayconfig.RelayConfig
	window     time.Duration
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]*Attempt
	recorded map[string]time.Time
}

// New wires a pipeline. auditor may be nil.
func New(log *zap.SugaredLogger, configs relayconfig.Store, dispatcher Dispatcher, logs maillog.Repository, auditor audit.Emitter, opts Options) *Pipeline {
	if opts.RecordedWindow <= 0 {
		opts.RecordedWindow = DefaultRecordedWindow
	}
	return &Pipeline{
		log:        log.Named("pipeline"),
		configs:    configs,
		dispatcher: dispatcher,
		logs:       logs,
		auditor:    auditor,
		defaults:   opts.Defaults,
		window:     opts.RecordedWindow,
		now:        time.Now,
		inFlight:   map[string]*Attempt{},
		recorded:   map[string]time.Time{},
	}
}

// Send runs a message through the whole pipeline.
func (p *Pipeline) Send(ctx context.Context, msg mail.Message) mail.Result {
	return p.Dispatch(ctx, p.BeforeSend(ctx, msg))
}

// BeforeSend reads the relay config and prepares an attempt for msg. The
// attempt stays in flight until it is dispatched or a host failure for it is
// recorded.
func (p *Pipeline) BeforeSend(ctx context.Context, msg mail.Message) *Attempt {
	cfg, err := p.configs.Get(ctx)
	if err != nil {
		p.log.Warnw("Failed to read relay config, using defaults", "error", err)
		cfg = p.defaults
	}

	id := msg.AttemptID
	if id == "" {
		id = uuid.NewString()
	}
	msg.AttemptID = id

	a := &Attempt{
		ID:        id,
		Message:   msg,
		Config:    cfg,
		Capture:   transcript.New(),
		StartedAt: p.now(),
	}
	a.state.Store(int32(Idle))
	metrics.PipelineTransitions.WithLabelValues(Idle.String()).Inc()

	p.mu.Lock()
	p.gcLocked()
	p.inFlight[id] = a
	p.mu.Unlock()

	p.log.Debugw("Prepared delivery attempt", "attemptID", id, "relay", cfg.RelayEnabled(), "recipients", len(msg.Recipients))
	return a
}

// Dispatch sends the attempt and records its outcome. The returned result is
// the send outcome, never altered by recording problems. An attempt can only
// be dispatched once.
func (p *Pipeline) Dispatch(ctx context.Context, a *Attempt) mail.Result {
	if !a.state.CompareAndSwap(int32(Idle), int32(Dispatching)) {
		p.log.Warnw("Attempt is not idle, refusing to dispatch it again", "attemptID", a.ID, "state", a.State().String())
		return mail.Result{ErrorMessage: "delivery attempt " + a.ID + " was already handled"}
	}
	metrics.PipelineTransitions.WithLabelValues(Dispatching.String()).Inc()

	res := p.dispatcher.Send(ctx, a.Message, a.Config, a.Capture)

	p.transition(a, Recording)
	p.record(ctx, a, func() maillog.Attempt {
		entry := maillog.Attempt{
			Timestamp:  p.now(),
			Recipient:  maillog.JoinRecipients(a.Message.Recipients),
			Subject:    a.Message.Subject,
			Status:     maillog.StatusSuccess,
			Transcript: res.Transcript,
		}
		if !res.OK {
			entry.Status = maillog.StatusFailed
			entry.ErrorMessage = res.ErrorMessage
		}
		return entry
	})
	p.transition(a, Done)
	return res
}

// OnHostReportedFailure records a failure reported by the host. It returns
// false when the failure belongs to an attempt that was, or will be, recorded
// by Dispatch.
func (p *Pipeline) OnHostReportedFailure(ctx context.Context, f HostFailure) bool {
	p.mu.Lock()
	p.gcLocked()
	_, seen := p.recorded[f.AttemptID]
	a := p.inFlight[f.AttemptID]
	if f.AttemptID != "" && !seen && a == nil {
		// Claim the ID before releasing the lock so a repeated report of the
		// same attempt is a duplicate.
		p.recorded[f.AttemptID] = p.now()
	}
	p.mu.Unlock()

	switch {
	case f.AttemptID != "" && seen:
		metrics.HostFailures.WithLabelValues("duplicate").Inc()
		p.log.Debugw("Ignoring host failure for recorded attempt", "attemptID", f.AttemptID)
		return false
	case a == nil:
		metrics.HostFailures.WithLabelValues("independent").Inc()
		cfg, err := p.configs.Get(ctx)
		if err != nil {
			p.log.Warnw("Failed to read relay config, using defaults", "error", err)
			cfg = p.defaults
		}
		p.store(ctx, cfg, f.AttemptID, p.failureEntry(f, mail.Message{}, ""))
		return true
	case !a.state.CompareAndSwap(int32(Idle), int32(Recording)):
		// Dispatch owns the attempt and records the outcome itself.
		metrics.HostFailures.WithLabelValues("duplicate").Inc()
		return false
	}

	metrics.HostFailures.WithLabelValues("matched").Inc()
	metrics.PipelineTransitions.WithLabelValues(Recording.String()).Inc()
	recorded := p.record(ctx, a, func() maillog.Attempt {
		return p.failureEntry(f, a.Message, a.Capture.Drain())
	})
	p.transition(a, Done)
	return recorded
}

func (p *Pipeline) failureEntry(f HostFailure, msg mail.Message, trace string) maillog.Attempt {
	recipients := f.Recipients
	if len(recipients) == 0 {
		recipients = msg.Recipients
	}
	recipient := maillog.JoinRecipients(recipients)
	if strings.TrimSpace(recipient) == "" {
		recipient = UnknownRecipient
	}
	subject := f.Subject
	if subject == "" {
		subject = msg.Subject
	}
	if subject == "" {
		subject = UnknownSubject
	}
	errMsg := f.Error
	if errMsg == "" {
		errMsg = unknownHostFailure
	}
	return maillog.Attempt{
		Timestamp:    p.now(),
		Recipient:    recipient,
		Subject:      subject,
		Status:       maillog.StatusFailed,
		ErrorMessage: errMsg,
		Transcript:   trace,
	}
}

// record runs build and stores its entry once per attempt. It reports whether
// this call was the one that recorded.
func (p *Pipeline) record(ctx context.Context, a *Attempt, build func() maillog.Attempt) bool {
	recorded := false
	a.recordOnce.Do(func() {
		recorded = true
		p.mu.Lock()
		delete(p.inFlight, a.ID)
		p.recorded[a.ID] = p.now()
		p.mu.Unlock()
		p.store(ctx, a.Config, a.ID, build())
	})
	return recorded
}

// store appends the entry when logging is enabled and emits the audit event.
// Failures are logged and never reach the caller.
func (p *Pipeline) store(ctx context.Context, cfg relayconfig.RelayConfig, attemptID string, entry maillog.Attempt) {
	if cfg.LoggingEnabled {
		if err := p.logs.Append(ctx, entry); err != nil {
			p.log.Warnw("Failed to record delivery attempt", "attemptID", attemptID, "error", err)
		}
	}
	if p.auditor == nil {
		return
	}
	event := &audit.Event{
		Type:      audit.EventDeliverySucceeded,
		Actor:     cfg.FromAddress,
		AttemptID: attemptID,
		Recipient: entry.Recipient,
		Details:   map[string]any{"subject": entry.Subject},
	}
	if cfg.RelayEnabled() {
		event.RelayHost = cfg.Host
	}
	if entry.Status == maillog.StatusFailed {
		event.Type = audit.EventDeliveryFailed
		event.Error = entry.ErrorMessage
	}
	p.auditor.Emit(ctx, event)
}

func (p *Pipeline) transition(a *Attempt, s State) {
	a.state.Store(int32(s))
	metrics.PipelineTransitions.WithLabelValues(s.String()).Inc()
}

// gcLocked forgets recorded IDs and abandoned attempts older than the window.
func (p *Pipeline) gcLocked() {
	cutoff := p.now().Add(-p.window)
	for id, at := range p.recorded {
		if at.Before(cutoff) {
			delete(p.recorded, id)
		}
	}
	for id, a := range p.inFlight {
		if a.StartedAt.Before(cutoff) {
			delete(p.inFlight, id)
		}
	}
}

// InFlight returns the number of attempts prepared but not yet recorded.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}
