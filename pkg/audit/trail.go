// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/smtp-relay/pkg/metrics"
)

const (
	defaultQueueSize = 1000
	writeTimeout     = 5 * time.Second
)

// Emitter is what event producers depend on.
type Emitter interface {
	Emit(ctx context.Context, event *Event)
}

// Trail hands events to a sink from a single background writer, so a slow
// sink never holds up a delivery. A nil *Trail drops everything.
type Trail struct {
	sink  Sink
	queue chan *Event
	log   *zap.Logger
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewTrail(sink Sink, queueSize int, logger *zap.Logger) *Trail {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	t := &Trail{
		sink:  sink,
		queue: make(chan *Event, queueSize),
		log:   logger.Named("audit"),
		done:  make(chan struct{}),
	}
	go t.run()
	t.log.Info("Audit trail started", zap.String("sink", sink.Name()), zap.Int("queueSize", queueSize))
	return t
}

// Emit stamps the event and queues it. When the queue is full the event is
// dropped and counted.
func (t *Trail) Emit(_ context.Context, event *Event) {
	if t == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = severityOf(event.Type)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- event:
	default:
		metrics.AuditEventsDropped.Inc()
		t.log.Warn("Audit queue full, event dropped",
			zap.String("type", string(event.Type)),
			zap.String("attemptID", event.AttemptID))
	}
}

func (t *Trail) run() {
	defer close(t.done)
	for event := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := t.sink.Write(ctx, event)
		cancel()
		if err != nil {
			t.log.Error("Failed to write audit event", zap.String("id", event.ID), zap.Error(err))
			continue
		}
		metrics.AuditEventsProcessed.WithLabelValues(string(event.Type)).Inc()
	}
}

// Close writes what is still queued and closes the sink.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	<-t.done
	return t.sink.Close()
}

// ConfigSaved records a stored relay configuration. Only whether a password
// is set leaves the store.
func (t *Trail) ConfigSaved(ctx context.Context, actor Actor, host string, port int, encryption string, passwordSet bool) {
	t.Emit(ctx, &Event{
		Type:      EventConfigSaved,
		Actor:     actor.Subject,
		SourceIP:  actor.SourceIP,
		RelayHost: host,
		Details:   map[string]any{"port": port, "encryption": encryption, "passwordSet": passwordSet},
	})
}

func (t *Trail) LogCleared(ctx context.Context, actor Actor) {
	t.Emit(ctx, &Event{Type: EventLogCleared, Actor: actor.Subject, SourceIP: actor.SourceIP})
}

func (t *Trail) LogPruned(ctx context.Context, retentionDays int, deleted int64) {
	t.Emit(ctx, &Event{
		Type:    EventLogPruned,
		Actor:   SystemActor,
		Details: map[string]any{"retentionDays": retentionDays, "deleted": deleted},
	})
}

// TestSent records an administrator test email. The delivery itself is
// recorded separately under its attempt ID.
func (t *Trail) TestSent(ctx context.Context, actor Actor, recipient string, ok bool) {
	e := &Event{Type: EventTestSent, Actor: actor.Subject, SourceIP: actor.SourceIP, Recipient: recipient}
	if !ok {
		e.Error = "test email was not delivered"
	}
	t.Emit(ctx, e)
}

// AuthFailure records a rejected API call or submission login.
func (t *Trail) AuthFailure(ctx context.Context, actor Actor, reason string) {
	t.Emit(ctx, &Event{Type: EventAuthFailure, Actor: actor.Subject, SourceIP: actor.SourceIP, Error: reason})
}
