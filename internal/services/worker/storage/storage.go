// Package storage defines the worker's durable attempt log.
package storage

import (
	"context"
	"time"
)

// Attempt outcomes recorded by the relay.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetry     = "retry"
	OutcomeDead      = "dead"
)

// AttemptRecord is one durable relay delivery outcome.
type AttemptRecord struct {
	ID           int64
	EventID      string
	EventType    string
	Consumer     string
	Outcome      string
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
}

// AttemptStore persists relay delivery attempts.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
	ListEventAttempts(ctx context.Context, eventID string) ([]AttemptRecord, error)
}
