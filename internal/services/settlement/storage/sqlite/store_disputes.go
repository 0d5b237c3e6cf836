package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/louisbranch/settlement/internal/services/settlement/domain/dispute"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
)

const disputeColumns = `id, order_id, source, status, liability, reason, outcome, refund_amount, provider_case_ref, opened_by, created_at, updated_at, resolved_at`

// PutDispute inserts a new dispute case.
func (s *Store) PutDispute(ctx context.Context, c dispute.Case) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("dispute id is required")
	}

	_, err := s.q.ExecContext(ctx, `
INSERT INTO dispute_cases (`+disputeColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		c.ID,
		c.OrderID,
		string(c.Source),
		string(c.Status),
		string(c.Liability),
		c.Reason,
		string(c.Outcome),
		moneyText(c.RefundAmount),
		c.ProviderCaseRef,
		c.OpenedBy,
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
		nullMillis(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("put dispute: %w", err)
	}
	return nil
}

// GetDispute fetches a dispute case by ID.
func (s *Store) GetDispute(ctx context.Context, disputeID string) (dispute.Case, error) {
	return s.getDispute(ctx, `WHERE id = ?`, disputeID)
}

// GetDisputeByProviderCaseRef fetches a chargeback case by provider reference.
func (s *Store) GetDisputeByProviderCaseRef(ctx context.Context, ref string) (dispute.Case, error) {
	if strings.TrimSpace(ref) == "" {
		return dispute.Case{}, storage.ErrNotFound
	}
	return s.getDispute(ctx, `WHERE provider_case_ref = ?`, ref)
}

// ListOrderDisputes returns every case of an order, oldest first.
func (s *Store) ListOrderDisputes(ctx context.Context, orderID string) ([]dispute.Case, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `SELECT `+disputeColumns+` FROM dispute_cases WHERE order_id = ? ORDER BY created_at ASC, rowid ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order disputes: %w", err)
	}
	defer rows.Close()

	cases := make([]dispute.Case, 0)
	for rows.Next() {
		c, err := scanDispute(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order disputes: %w", err)
	}
	return cases, nil
}

func (s *Store) getDispute(ctx context.Context, where string, arg string) (dispute.Case, error) {
	if err := s.ready(ctx); err != nil {
		return dispute.Case{}, err
	}
	row := s.q.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM dispute_cases `+where, arg)
	c, err := scanDispute(row.Scan)
	if err != nil {
		return dispute.Case{}, notFoundOr(err, "get dispute")
	}
	return c, nil
}

// UpdateDispute rewrites the mutable fields of a case still in from.
func (s *Store) UpdateDispute(ctx context.Context, c dispute.Case, from dispute.Status) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, `
UPDATE dispute_cases
SET status = ?, liability = ?, outcome = ?, refund_amount = ?, updated_at = ?, resolved_at = ?
WHERE id = ? AND status = ?
`,
		string(c.Status),
		string(c.Liability),
		string(c.Outcome),
		moneyText(c.RefundAmount),
		toMillis(c.UpdatedAt),
		nullMillis(c.ResolvedAt),
		c.ID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	rows, err := affected(result, "update dispute")
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM dispute_cases WHERE id = ?`, c.ID)
	}
	return nil
}

// AppendDisputeEvent appends an audit trail entry.
func (s *Store) AppendDisputeEvent(ctx context.Context, event dispute.Event) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("dispute event id is required")
	}

	_, err := s.q.ExecContext(ctx, `
INSERT INTO dispute_events (id, dispute_id, actor_id, actor_role, event_type, from_status, to_status, liability, note, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		event.ID,
		event.DisputeID,
		event.ActorID,
		event.ActorRole,
		string(event.Type),
		string(event.FromStatus),
		string(event.ToStatus),
		string(event.Liability),
		event.Note,
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append dispute event: %w", err)
	}
	return nil
}

// ListDisputeEvents returns the audit trail of a case, oldest first.
func (s *Store) ListDisputeEvents(ctx context.Context, disputeID string) ([]dispute.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
SELECT id, dispute_id, actor_id, actor_role, event_type, from_status, to_status, liability, note, created_at
FROM dispute_events
WHERE dispute_id = ?
ORDER BY created_at ASC, rowid ASC
`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("list dispute events: %w", err)
	}
	defer rows.Close()

	events := make([]dispute.Event, 0)
	for rows.Next() {
		var (
			event     dispute.Event
			eventType string
			from      string
			to        string
			liability string
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.DisputeID, &event.ActorID, &event.ActorRole, &eventType, &from, &to, &liability, &event.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dispute event: %w", err)
		}
		event.Type = dispute.EventType(eventType)
		event.FromStatus = dispute.Status(from)
		event.ToStatus = dispute.Status(to)
		event.Liability = dispute.Liability(liability)
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispute events: %w", err)
	}
	return events, nil
}

func scanDispute(scan scanner) (dispute.Case, error) {
	var (
		c          dispute.Case
		source     string
		status     string
		liability  string
		outcome    string
		refund     string
		createdAt  int64
		updatedAt  int64
		resolvedAt sql.NullInt64
	)
	if err := scan(
		&c.ID,
		&c.OrderID,
		&source,
		&status,
		&liability,
		&c.Reason,
		&outcome,
		&refund,
		&c.ProviderCaseRef,
		&c.OpenedBy,
		&createdAt,
		&updatedAt,
		&resolvedAt,
	); err != nil {
		return dispute.Case{}, err
	}
	amount, err := parseDecimal("refund_amount", refund)
	if err != nil {
		return dispute.Case{}, err
	}
	c.Source = dispute.Source(source)
	c.Status = dispute.Status(status)
	c.Liability = dispute.Liability(liability)
	c.Outcome = dispute.Outcome(outcome)
	c.RefundAmount = amount
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	c.ResolvedAt = fromNullMillis(resolvedAt)
	return c, nil
}
