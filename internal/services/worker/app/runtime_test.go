package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/outbox"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	settlementsqlite "github.com/louisbranch/settlement/internal/services/settlement/storage/sqlite"
	workerdomain "github.com/louisbranch/settlement/internal/services/worker/domain"
	workerstorage "github.com/louisbranch/settlement/internal/services/worker/storage"
	workersqlite "github.com/louisbranch/settlement/internal/services/worker/storage/sqlite"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAttemptStoreRecorder_EmptyConsumerUsesDefault(t *testing.T) {
	store := openTempWorkerStore(t)
	recorder := &attemptStoreRecorder{
		store:    store,
		consumer: "",
	}

	err := recorder.RecordAttempt(context.Background(), Attempt{
		EventID:      "evt-1",
		EventType:    outbox.EventOrderPaid,
		Outcome:      workerstorage.OutcomeSucceeded,
		AttemptCount: 1,
		CreatedAt:    testNow,
	})
	if err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	attempts, err := store.ListAttempts(context.Background(), 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("attempts len = %d, want 1", len(attempts))
	}
	if attempts[0].Consumer != defaultConsumer {
		t.Fatalf("consumer = %q, want %q", attempts[0].Consumer, defaultConsumer)
	}
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{RetryBackoff: 10 * time.Minute}.normalized()
	if cfg.Consumer != defaultConsumer {
		t.Fatalf("consumer = %q, want %q", cfg.Consumer, defaultConsumer)
	}
	if cfg.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("max attempts = %d, want %d", cfg.MaxAttempts, defaultMaxAttempts)
	}
	if cfg.RetryMaxDelay != 10*time.Minute {
		t.Fatalf("retry max delay = %s, want 10m (raised to backoff)", cfg.RetryMaxDelay)
	}
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	w := New(nil, nil, nil, Config{RetryBackoff: time.Second, RetryMaxDelay: 10 * time.Second}, nil)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 10 * time.Second},
		{attempt: 12, want: 10 * time.Second},
	}
	for _, tc := range cases {
		if got := w.retryDelay(tc.attempt); got != tc.want {
			t.Fatalf("retryDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestWorker_RunOnceAcksRetriesAndDeadLetters(t *testing.T) {
	source := &fakeSource{events: []storage.OutboxEvent{
		{ID: "evt-ok", EventType: outbox.EventOrderPaid},
		{ID: "evt-retry", EventType: outbox.EventOrderFinalized, AttemptCount: 1},
		{ID: "evt-bad", EventType: outbox.EventDisputeOpened},
		{ID: "evt-exhausted", EventType: outbox.EventOrderFinalized, AttemptCount: 2},
		{ID: "evt-unknown", EventType: "order.shipped"},
	}}
	recorder := &fakeRecorder{}
	handlers := map[string]EventHandler{
		outbox.EventOrderPaid: EventHandlerFunc(func(context.Context, storage.OutboxEvent) error { return nil }),
		outbox.EventOrderFinalized: EventHandlerFunc(func(context.Context, storage.OutboxEvent) error {
			return errors.New("downstream unavailable")
		}),
		outbox.EventDisputeOpened: EventHandlerFunc(func(context.Context, storage.OutboxEvent) error {
			return workerdomain.Permanent(errors.New("bad payload"))
		}),
	}
	w := New(source, recorder, handlers, Config{
		Consumer:     "relay-test",
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	}, func() time.Time { return testNow })

	processed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 5 {
		t.Fatalf("processed = %d, want 5", processed)
	}
	if source.consumer != "relay-test" {
		t.Fatalf("lease consumer = %q, want relay-test", source.consumer)
	}

	wantOutcomes := map[string]string{
		"evt-ok":        workerstorage.OutcomeSucceeded,
		"evt-retry":     workerstorage.OutcomeRetry,
		"evt-bad":       workerstorage.OutcomeDead,
		"evt-exhausted": workerstorage.OutcomeDead,
		"evt-unknown":   workerstorage.OutcomeDead,
	}
	for id, want := range wantOutcomes {
		if got := source.outcomes[id]; got != want {
			t.Fatalf("outcome[%s] = %q, want %q", id, got, want)
		}
	}
	if got, want := source.nextAttempt["evt-retry"], testNow.Add(2*time.Second); !got.Equal(want) {
		t.Fatalf("next attempt = %v, want %v", got, want)
	}
	if len(recorder.attempts) != 5 {
		t.Fatalf("recorded attempts = %d, want 5", len(recorder.attempts))
	}
	if recorder.attempts[1].AttemptCount != 2 || recorder.attempts[1].Error != "downstream unavailable" {
		t.Fatalf("retry attempt = %+v, want attempt 2 with error", recorder.attempts[1])
	}
}

func TestWorker_RelaysSettlementOutboxEndToEnd(t *testing.T) {
	ctx := context.Background()
	settlementStore, err := settlementsqlite.Open(filepath.Join(t.TempDir(), "settlement.db"))
	if err != nil {
		t.Fatalf("open settlement store: %v", err)
	}
	t.Cleanup(func() {
		if err := settlementStore.Close(); err != nil {
			t.Fatalf("close settlement store: %v", err)
		}
	})
	workerStore := openTempWorkerStore(t)

	event, err := outbox.New("evt-1", outbox.EventOrderFinalized, "ord-1", outbox.OrderFinalized{OrderID: "ord-1", SellerID: "seller-1"}, testNow)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if err := settlementStore.EnqueueOutboxEvent(ctx, event); err != nil {
		t.Fatalf("enqueue event: %v", err)
	}

	var sent []workerdomain.Notification
	notifier := notifierFunc(func(_ context.Context, n workerdomain.Notification) error {
		sent = append(sent, n)
		return nil
	})
	w := New(
		settlementStore,
		newAttemptStoreRecorder(workerStore, "relay-e2e"),
		eventHandlers(workerdomain.NewNotificationHandler(notifier, settlementStore)),
		Config{Consumer: "relay-e2e"},
		func() time.Time { return testNow.Add(time.Second) },
	)

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(sent) != 1 || sent[0].Topic != workerdomain.TopicPayoutScheduled {
		t.Fatalf("sent = %+v, want one payout notification", sent)
	}

	stored, err := settlementStore.GetOutboxEvent(ctx, "evt-1")
	if err != nil {
		t.Fatalf("get outbox event: %v", err)
	}
	if stored.Status != storage.OutboxStatusSucceeded {
		t.Fatalf("status = %q, want %q", stored.Status, storage.OutboxStatusSucceeded)
	}
	history, err := workerStore.ListEventAttempts(ctx, "evt-1")
	if err != nil {
		t.Fatalf("list event attempts: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != workerstorage.OutcomeSucceeded || history[0].Consumer != "relay-e2e" {
		t.Fatalf("history = %+v, want one succeeded attempt by relay-e2e", history)
	}

	processed, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run once: %v", err)
	}
	if processed != 0 {
		t.Fatalf("second run processed = %d, want 0", processed)
	}
}

func TestEventHandlersCoverEveryEventType(t *testing.T) {
	handler := EventHandlerFunc(func(context.Context, storage.OutboxEvent) error { return nil })
	handlers := eventHandlers(handler)
	for _, eventType := range outbox.EventTypes {
		if handlers[eventType] == nil {
			t.Fatalf("missing handler for %s", eventType)
		}
	}
}

func TestBuildNotifierRequiresSecretWithURL(t *testing.T) {
	if _, err := buildNotifier(RuntimeConfig{NotifyURL: "http://example.test/hooks"}); err == nil {
		t.Fatal("expected error for url without secret")
	}
	notifier, err := buildNotifier(RuntimeConfig{})
	if err != nil {
		t.Fatalf("build notifier: %v", err)
	}
	if _, ok := notifier.(workerdomain.LogNotifier); !ok {
		t.Fatalf("notifier = %T, want LogNotifier", notifier)
	}
}

func openTempWorkerStore(t *testing.T) *workersqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	store, err := workersqlite.Open(path)
	if err != nil {
		t.Fatalf("open worker store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close worker store: %v", err)
		}
	})
	return store
}

type notifierFunc func(ctx context.Context, n workerdomain.Notification) error

func (f notifierFunc) Notify(ctx context.Context, n workerdomain.Notification) error {
	return f(ctx, n)
}

type fakeSource struct {
	events      []storage.OutboxEvent
	consumer    string
	outcomes    map[string]string
	nextAttempt map[string]time.Time
}

func (f *fakeSource) LeaseOutboxEvents(_ context.Context, consumer string, limit int, _ time.Time, _ time.Duration) ([]storage.OutboxEvent, error) {
	f.consumer = consumer
	events := f.events
	if len(events) > limit {
		events = events[:limit]
	}
	f.events = nil
	return events, nil
}

func (f *fakeSource) MarkOutboxSucceeded(_ context.Context, id string, _ string, _ time.Time) error {
	f.record(id, workerstorage.OutcomeSucceeded)
	return nil
}

func (f *fakeSource) MarkOutboxRetry(_ context.Context, id string, _ string, nextAttemptAt time.Time, _ string) error {
	f.record(id, workerstorage.OutcomeRetry)
	if f.nextAttempt == nil {
		f.nextAttempt = map[string]time.Time{}
	}
	f.nextAttempt[id] = nextAttemptAt
	return nil
}

func (f *fakeSource) MarkOutboxDead(_ context.Context, id string, _ string, _ string, _ time.Time) error {
	f.record(id, workerstorage.OutcomeDead)
	return nil
}

func (f *fakeSource) record(id, outcome string) {
	if f.outcomes == nil {
		f.outcomes = map[string]string{}
	}
	f.outcomes[id] = outcome
}

type fakeRecorder struct {
	attempts []Attempt
}

func (f *fakeRecorder) RecordAttempt(_ context.Context, attempt Attempt) error {
	f.attempts = append(f.attempts, attempt)
	return nil
}
