// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import "time"

type EventType string

const (
	EventDeliverySucceeded EventType = "delivery.succeeded"
	EventDeliveryFailed    EventType = "delivery.failed"

	EventConfigSaved EventType = "relay.config.saved"
	EventLogCleared  EventType = "relay.log.cleared"
	EventLogPruned   EventType = "relay.log.pruned"
	EventTestSent    EventType = "relay.test.sent"

	EventAuthFailure EventType = "auth.failure"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SystemActor is recorded for scheduled work such as retention.
const SystemActor = "system"

// Event is one line of the audit trail. Delivery events are keyed by their
// attempt ID; administrative events only carry the actor.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`

	// Actor is the admin subject, the sending address or SystemActor.
	Actor    string `json:"actor"`
	SourceIP string `json:"sourceIp,omitempty"`

	AttemptID string `json:"attemptId,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	// RelayHost is empty when the message went through the default sender.
	RelayHost string `json:"relayHost,omitempty"`
	Error     string `json:"error,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}

// Actor identifies the caller of an administrative operation.
type Actor struct {
	Subject  string
	SourceIP string
}

// key groups every event of one delivery attempt on the same partition.
func (e *Event) key() string {
	if e.AttemptID != "" {
		return e.AttemptID
	}
	return e.ID
}

func severityOf(t EventType) Severity {
	switch t {
	case EventAuthFailure:
		return SeverityCritical
	case EventDeliveryFailed, EventLogCleared:
		return SeverityWarning
	}
	return SeverityInfo
}
