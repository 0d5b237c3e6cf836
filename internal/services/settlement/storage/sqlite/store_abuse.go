package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
)

// PutRiskEvent records a denied abuse gate attempt. Reasons are stored as a
// JSON array of reason codes.
func (s *Store) PutRiskEvent(ctx context.Context, event abuse.RiskEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("risk event id is required")
	}
	reasons, err := json.Marshal(event.Reasons)
	if err != nil {
		return fmt.Errorf("encode risk reasons: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
INSERT INTO abuse_risk_events (id, flow, ip, user_id, reasons_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, event.ID, string(event.Flow), event.IP, event.UserID, string(reasons), toMillis(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("put risk event: %w", err)
	}
	return nil
}

// ListRiskEvents returns risk events created at or after since, oldest first.
func (s *Store) ListRiskEvents(ctx context.Context, since time.Time) ([]abuse.RiskEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
SELECT id, flow, ip, user_id, reasons_json, created_at
FROM abuse_risk_events
WHERE created_at >= ?
ORDER BY created_at ASC, id ASC
`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list risk events: %w", err)
	}
	defer rows.Close()

	events := make([]abuse.RiskEvent, 0)
	for rows.Next() {
		var (
			event     abuse.RiskEvent
			flow      string
			reasons   string
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &flow, &event.IP, &event.UserID, &reasons, &createdAt); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		if err := json.Unmarshal([]byte(reasons), &event.Reasons); err != nil {
			return nil, fmt.Errorf("decode risk reasons: %w", err)
		}
		event.Flow = abuse.Flow(flow)
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk events: %w", err)
	}
	return events, nil
}
