// Package app runs the settlement outbox relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	workerdomain "github.com/louisbranch/settlement/internal/services/worker/domain"
	workerstorage "github.com/louisbranch/settlement/internal/services/worker/storage"
)

const (
	defaultConsumer      = "settlement-relay"
	defaultPollInterval  = 2 * time.Second
	defaultLeaseTTL      = 30 * time.Second
	defaultBatchSize     = 20
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
)

// Config controls relay leasing and retry behavior.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = c.RetryBackoff
	}
	return c
}

// OutboxSource leases and acknowledges settlement outbox events.
type OutboxSource interface {
	LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.OutboxEvent, error)
	MarkOutboxSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error
}

// EventHandler processes one leased event.
type EventHandler interface {
	Handle(ctx context.Context, event storage.OutboxEvent) error
}

// EventHandlerFunc adapts a function into an EventHandler.
type EventHandlerFunc func(ctx context.Context, event storage.OutboxEvent) error

// Handle calls f.
func (f EventHandlerFunc) Handle(ctx context.Context, event storage.OutboxEvent) error {
	return f(ctx, event)
}

// Attempt is one processing outcome reported to the recorder.
type Attempt struct {
	EventID      string
	EventType    string
	Outcome      string
	AttemptCount int
	Error        string
	CreatedAt    time.Time
}

// AttemptRecorder receives every processing outcome.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Worker leases outbox events and dispatches them to handlers by type.
type Worker struct {
	source   OutboxSource
	recorder AttemptRecorder
	handlers map[string]EventHandler
	cfg      Config
	clock    func() time.Time
}

// New builds a relay worker. A nil clock uses time.Now.
func New(source OutboxSource, recorder AttemptRecorder, handlers map[string]EventHandler, cfg Config, clock func() time.Time) *Worker {
	if clock == nil {
		clock = time.Now
	}
	registered := make(map[string]EventHandler, len(handlers))
	for eventType, handler := range handlers {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" || handler == nil {
			continue
		}
		registered[eventType] = handler
	}
	return &Worker{
		source:   source,
		recorder: recorder,
		handlers: registered,
		cfg:      cfg.normalized(),
		clock:    clock,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.source == nil {
		return errors.New("outbox source is not configured")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("relay poll consumer=%s: %v", w.cfg.Consumer, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce leases one batch and processes it, returning how many events were
// handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	events, err := w.source.LeaseOutboxEvents(ctx, w.cfg.Consumer, w.cfg.BatchSize, w.clock().UTC(), w.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease outbox events: %w", err)
	}
	processed := 0
	for _, event := range events {
		if ctx.Err() != nil {
			// Unprocessed leases expire and are picked up again.
			return processed, ctx.Err()
		}
		w.process(ctx, event)
		processed++
	}
	return processed, nil
}

func (w *Worker) process(ctx context.Context, event storage.OutboxEvent) {
	attempt := event.AttemptCount + 1
	handler, ok := w.handlers[event.EventType]
	var handleErr error
	if !ok {
		handleErr = workerdomain.Permanent(fmt.Errorf("no handler for event type %q", event.EventType))
	} else {
		handleErr = handler.Handle(ctx, event)
	}
	if handleErr != nil && ctx.Err() != nil {
		return
	}

	now := w.clock().UTC()
	outcome := workerstorage.OutcomeSucceeded
	var markErr error
	switch {
	case handleErr == nil:
		markErr = w.source.MarkOutboxSucceeded(ctx, event.ID, w.cfg.Consumer, now)
	case workerdomain.IsPermanent(handleErr) || attempt >= w.cfg.MaxAttempts:
		outcome = workerstorage.OutcomeDead
		markErr = w.source.MarkOutboxDead(ctx, event.ID, w.cfg.Consumer, handleErr.Error(), now)
	default:
		outcome = workerstorage.OutcomeRetry
		markErr = w.source.MarkOutboxRetry(ctx, event.ID, w.cfg.Consumer, now.Add(w.retryDelay(attempt)), handleErr.Error())
	}
	if markErr != nil {
		log.Printf("relay ack event_id=%s outcome=%s: %v", event.ID, outcome, markErr)
		return
	}
	if outcome != workerstorage.OutcomeSucceeded {
		log.Printf("relay event_id=%s event_type=%s outcome=%s attempt=%d: %v", event.ID, event.EventType, outcome, attempt, handleErr)
	}

	if w.recorder == nil {
		return
	}
	record := Attempt{
		EventID:      event.ID,
		EventType:    event.EventType,
		Outcome:      outcome,
		AttemptCount: attempt,
		CreatedAt:    now,
	}
	if handleErr != nil {
		record.Error = handleErr.Error()
	}
	if err := w.recorder.RecordAttempt(ctx, record); err != nil {
		log.Printf("record relay attempt event_id=%s: %v", event.ID, err)
	}
}

// retryDelay doubles the base backoff per failed attempt up to the cap.
func (w *Worker) retryDelay(attempt int) time.Duration {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     w.cfg.RetryBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         w.cfg.RetryMaxDelay,
	}
	policy.Reset()
	delay := w.cfg.RetryBackoff
	for i := 0; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	if delay <= 0 || delay > w.cfg.RetryMaxDelay {
		return w.cfg.RetryMaxDelay
	}
	return delay
}
