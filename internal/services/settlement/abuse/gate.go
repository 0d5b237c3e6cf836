// Package abuse rate-limits abuse-sensitive flows per IP and per user with
// sliding windows, recording a risk event for every denied attempt.
package abuse

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/platform/id"
)

// Reason is a tagged risk reason code.
type Reason string

const (
	ReasonIPLimitExceeded   Reason = "ip_limit_exceeded"
	ReasonUserLimitExceeded Reason = "user_limit_exceeded"
)

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) {
	switch r {
	case ReasonIPLimitExceeded, ReasonUserLimitExceeded:
		return []byte(r), nil
	default:
		return nil, fmt.Errorf("unknown risk reason %q", string(r))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reason) UnmarshalText(text []byte) error {
	switch value := Reason(text); value {
	case ReasonIPLimitExceeded, ReasonUserLimitExceeded:
		*r = value
		return nil
	default:
		return fmt.Errorf("unknown risk reason %q", string(text))
	}
}

// RiskEvent records one denied attempt.
type RiskEvent struct {
	ID        string
	Flow      Flow
	IP        string
	UserID    string
	Reasons   []Reason
	CreatedAt time.Time
}

// RiskRecorder persists risk events.
type RiskRecorder interface {
	PutRiskEvent(ctx context.Context, event RiskEvent) error
}

// CounterStore keeps attempt timestamps per key.
type CounterStore interface {
	// Count drops timestamps before since and returns how many remain.
	Count(ctx context.Context, key string, since time.Time) (int, error)
	Record(ctx context.Context, key string, at time.Time) error
}

// Gate enforces a Policy over a CounterStore.
type Gate struct {
	mu       sync.Mutex
	policy   Policy
	counters CounterStore
	recorder RiskRecorder
	now      func() time.Time
}

// NewGate builds a gate. A nil policy uses DefaultPolicy and a nil store
// keeps counters in memory.
func NewGate(policy Policy, counters CounterStore, recorder RiskRecorder, now func() time.Time) *Gate {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if counters == nil {
		counters = NewMemoryCounterStore()
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{policy: policy, counters: counters, recorder: recorder, now: now}
}

// Check admits or denies one attempt of flow. Admitted attempts are counted;
// denied attempts are not, so a caller that backs off regains capacity as the
// window slides.
func (g *Gate) Check(ctx context.Context, flow Flow, ip, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	limit, ok := g.policy[flow]
	if !ok {
		return fmt.Errorf("abuse flow %q is not configured", flow)
	}
	ip = strings.TrimSpace(ip)
	userID = strings.TrimSpace(userID)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	since := now.Add(-limit.Window)
	ipKey := counterKey(flow, "ip", ip)
	userKey := counterKey(flow, "user", userID)

	var reasons []Reason
	if ip != "" && limit.IP > 0 {
		count, err := g.counters.Count(ctx, ipKey, since)
		if err != nil {
			return fmt.Errorf("count ip attempts: %w", err)
		}
		if count >= limit.IP {
			reasons = append(reasons, ReasonIPLimitExceeded)
		}
	}
	if userID != "" && limit.User > 0 {
		count, err := g.counters.Count(ctx, userKey, since)
		if err != nil {
			return fmt.Errorf("count user attempts: %w", err)
		}
		if count >= limit.User {
			reasons = append(reasons, ReasonUserLimitExceeded)
		}
	}

	if len(reasons) > 0 {
		g.recordRisk(ctx, RiskEvent{
			Flow:      flow,
			IP:        ip,
			UserID:    userID,
			Reasons:   reasons,
			CreatedAt: now,
		})
		return apperrors.WithMetadata(apperrors.CodeAbuseRateLimit, fmt.Sprintf("%s rate limit exceeded", flow), map[string]string{
			"Flow": string(flow),
		})
	}

	if ip != "" {
		if err := g.counters.Record(ctx, ipKey, now); err != nil {
			return fmt.Errorf("record ip attempt: %w", err)
		}
	}
	if userID != "" {
		if err := g.counters.Record(ctx, userKey, now); err != nil {
			return fmt.Errorf("record user attempt: %w", err)
		}
	}
	return nil
}

// A failed write still denies the attempt.
func (g *Gate) recordRisk(ctx context.Context, event RiskEvent) {
	if g.recorder == nil {
		return
	}
	eventID, err := id.WithPrefix("risk")
	if err != nil {
		log.Printf("abuse risk event not recorded flow=%s err=%v", event.Flow, err)
		return
	}
	event.ID = eventID
	if err := g.recorder.PutRiskEvent(ctx, event); err != nil {
		log.Printf("abuse risk event not recorded flow=%s err=%v", event.Flow, err)
	}
}

func counterKey(flow Flow, dimension, value string) string {
	return string(flow) + "|" + dimension + "|" + value
}
