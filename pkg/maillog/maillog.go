// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package maillog

import (
	"context"
	"strings"
	"time"
)

// TableName is the single table holding delivery attempts.
const TableName = "smtp_relay_logs"

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// Status is the outcome of a delivery attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Attempt is one recorded delivery attempt. Records are inserted once and only
// ever removed by Clear or PruneOlderThan.
type Attempt struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
}

// Repository persists delivery attempts.
type Repository interface {
	// EnsureSchema creates the table and its indexes if missing. Safe to call
	// concurrently and repeatedly.
	EnsureSchema(ctx context.Context) error
	// Append inserts a record. Callers skip it when logging is disabled.
	Append(ctx context.Context, a Attempt) error
	// List returns at most limit records, newest first. Read failures yield an
	// empty slice.
	List(ctx context.Context, limit int) []Attempt
	// Clear removes every record.
	Clear(ctx context.Context) error
	// PruneOlderThan removes records older than the given number of days and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, days int) (int64, error)
	Close() error
}

// JoinRecipients renders a recipient list the way it is stored.
func JoinRecipients(recipients []string) string {
	return strings.Join(recipients, ", ")
}

// NormalizeLimit applies the default and the upper bound to a list limit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
