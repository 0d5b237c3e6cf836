package abuse

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore keeps counters in process memory.
type MemoryCounterStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryCounterStore returns an empty in-memory store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{events: make(map[string][]time.Time)}
}

// Count drops timestamps before since and returns how many remain.
func (s *MemoryCounterStore) Count(ctx context.Context, key string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := pruneBefore(s.events[key], since)
	if len(kept) == 0 {
		delete(s.events, key)
		return 0, nil
	}
	s.events[key] = kept
	return len(kept), nil
}

// Record appends one attempt.
func (s *MemoryCounterStore) Record(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[key] = append(s.events[key], at)
	return nil
}

// pruneBefore keeps timestamps at or after since. Input is append-ordered.
func pruneBefore(events []time.Time, since time.Time) []time.Time {
	idx := 0
	for idx < len(events) && events[idx].Before(since) {
		idx++
	}
	return events[idx:]
}

var _ CounterStore = (*MemoryCounterStore)(nil)
