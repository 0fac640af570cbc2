// Package audit provides the audit trail of the relay: every recorded
// delivery attempt and every administrative change is emitted as an event and
// forwarded to configurable sinks (log, Kafka, webhook).
package audit
