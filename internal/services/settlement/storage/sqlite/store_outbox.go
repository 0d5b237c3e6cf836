package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/storage"
)

const outboxColumns = `
	id,
	event_type,
	payload_json,
	dedupe_key,
	status,
	attempt_count,
	next_attempt_at,
	lease_owner,
	lease_expires_at,
	last_error,
	processed_at,
	created_at,
	updated_at`

func normalizeOutboxEvent(event storage.OutboxEvent) (storage.OutboxEvent, error) {
	event.ID = strings.TrimSpace(event.ID)
	event.EventType = strings.TrimSpace(event.EventType)
	event.PayloadJSON = strings.TrimSpace(event.PayloadJSON)
	event.DedupeKey = strings.TrimSpace(event.DedupeKey)
	event.LeaseOwner = strings.TrimSpace(event.LeaseOwner)
	event.LastError = strings.TrimSpace(event.LastError)
	if event.ID == "" {
		return storage.OutboxEvent{}, fmt.Errorf("event id is required")
	}
	if event.EventType == "" {
		return storage.OutboxEvent{}, fmt.Errorf("event type is required")
	}
	if event.PayloadJSON == "" {
		event.PayloadJSON = "{}"
	}
	if event.Status == "" {
		event.Status = storage.OutboxStatusPending
	}
	if event.AttemptCount < 0 {
		return storage.OutboxEvent{}, fmt.Errorf("attempt count must be greater than or equal to zero")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = event.CreatedAt
	}
	return event, nil
}

// EnqueueOutboxEvent writes an event. A repeated non-empty dedupe key is
// ignored.
func (s *Store) EnqueueOutboxEvent(ctx context.Context, event storage.OutboxEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	normalized, err := normalizeOutboxEvent(event)
	if err != nil {
		return err
	}

	var leaseExpiresAt sql.NullInt64
	if normalized.LeaseExpiresAt != nil {
		leaseExpiresAt = sql.NullInt64{Int64: toMillis(*normalized.LeaseExpiresAt), Valid: true}
	}
	var processedAt sql.NullInt64
	if normalized.ProcessedAt != nil {
		processedAt = sql.NullInt64{Int64: toMillis(*normalized.ProcessedAt), Valid: true}
	}

	_, err = s.q.ExecContext(ctx, `
INSERT INTO settlement_outbox (`+outboxColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dedupe_key) WHERE dedupe_key <> '' DO NOTHING
`,
		normalized.ID,
		normalized.EventType,
		normalized.PayloadJSON,
		normalized.DedupeKey,
		string(normalized.Status),
		normalized.AttemptCount,
		toMillis(normalized.NextAttemptAt),
		normalized.LeaseOwner,
		leaseExpiresAt,
		normalized.LastError,
		processedAt,
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// GetOutboxEvent returns one outbox event by ID.
func (s *Store) GetOutboxEvent(ctx context.Context, id string) (storage.OutboxEvent, error) {
	if err := s.ready(ctx); err != nil {
		return storage.OutboxEvent{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.OutboxEvent{}, fmt.Errorf("event id is required")
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM settlement_outbox WHERE id = ?`, id)
	event, err := scanOutboxEvent(row.Scan)
	if err != nil {
		return storage.OutboxEvent{}, notFoundOr(err, "get outbox event")
	}
	return event, nil
}

// LeaseOutboxEvents leases due outbox events for one consumer. Pending
// events whose next attempt is due and leased events whose lease expired are
// both eligible.
func (s *Store) LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.UTC()
	leaseExpiresAt := now.Add(leaseTTL)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start lease transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT id
FROM settlement_outbox
WHERE (
	(status = ? AND next_attempt_at <= ?)
	OR
	(status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
)
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?
`,
		string(storage.OutboxStatusPending),
		toMillis(now),
		string(storage.OutboxStatusLeased),
		toMillis(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	candidateIDs := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan lease candidate: %w", scanErr)
		}
		candidateIDs = append(candidateIDs, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate lease candidates: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close lease candidates: %w", err)
	}
	if len(candidateIDs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty lease transaction: %w", err)
		}
		return []storage.OutboxEvent{}, nil
	}

	leased := make([]storage.OutboxEvent, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		result, updateErr := tx.ExecContext(ctx, `
UPDATE settlement_outbox
SET
	status = ?,
	lease_owner = ?,
	lease_expires_at = ?,
	updated_at = ?
WHERE id = ?
AND (
	(status = ? AND next_attempt_at <= ?)
	OR
	(status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
)
`,
			string(storage.OutboxStatusLeased),
			consumer,
			toMillis(leaseExpiresAt),
			toMillis(now),
			id,
			string(storage.OutboxStatusPending),
			toMillis(now),
			string(storage.OutboxStatusLeased),
			toMillis(now),
		)
		if updateErr != nil {
			return nil, fmt.Errorf("lease outbox event %s: %w", id, updateErr)
		}
		rowsAffected, rowsErr := result.RowsAffected()
		if rowsErr != nil {
			return nil, fmt.Errorf("lease rows affected for %s: %w", id, rowsErr)
		}
		if rowsAffected == 0 {
			continue
		}

		row := tx.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM settlement_outbox WHERE id = ?`, id)
		event, scanErr := scanOutboxEvent(row.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan leased outbox event %s: %w", id, scanErr)
		}
		leased = append(leased, event)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease transaction: %w", err)
	}
	return leased, nil
}

// MarkOutboxSucceeded acknowledges one leased event.
func (s *Store) MarkOutboxSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id, consumer, err := leaseIdentity(id, consumer)
	if err != nil {
		return err
	}
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	result, err := s.q.ExecContext(ctx, `
UPDATE settlement_outbox
SET
	status = ?,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error = '',
	processed_at = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
AND lease_owner = ?
`,
		string(storage.OutboxStatusSucceeded),
		toMillis(processedAt),
		toMillis(processedAt),
		id,
		string(storage.OutboxStatusLeased),
		consumer,
	)
	if err != nil {
		return fmt.Errorf("mark outbox succeeded: %w", err)
	}
	return requireLeaseRow(result, "mark outbox succeeded")
}

// MarkOutboxRetry returns one leased event to pending with a later attempt time.
func (s *Store) MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id, consumer, err := leaseIdentity(id, consumer)
	if err != nil {
		return err
	}
	if nextAttemptAt.IsZero() {
		return fmt.Errorf("next attempt at is required")
	}
	now := time.Now().UTC()

	result, err := s.q.ExecContext(ctx, `
UPDATE settlement_outbox
SET
	status = ?,
	attempt_count = attempt_count + 1,
	next_attempt_at = ?,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error = ?,
	processed_at = NULL,
	updated_at = ?
WHERE id = ?
AND status = ?
AND lease_owner = ?
`,
		string(storage.OutboxStatusPending),
		toMillis(nextAttemptAt),
		strings.TrimSpace(lastError),
		toMillis(now),
		id,
		string(storage.OutboxStatusLeased),
		consumer,
	)
	if err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	return requireLeaseRow(result, "mark outbox retry")
}

// MarkOutboxDead parks one leased event permanently.
func (s *Store) MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id, consumer, err := leaseIdentity(id, consumer)
	if err != nil {
		return err
	}
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	result, err := s.q.ExecContext(ctx, `
UPDATE settlement_outbox
SET
	status = ?,
	attempt_count = attempt_count + 1,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error = ?,
	processed_at = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
AND lease_owner = ?
`,
		string(storage.OutboxStatusDead),
		strings.TrimSpace(lastError),
		toMillis(processedAt),
		toMillis(processedAt),
		id,
		string(storage.OutboxStatusLeased),
		consumer,
	)
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return requireLeaseRow(result, "mark outbox dead")
}

func leaseIdentity(id, consumer string) (string, string, error) {
	id = strings.TrimSpace(id)
	consumer = strings.TrimSpace(consumer)
	if id == "" {
		return "", "", fmt.Errorf("event id is required")
	}
	if consumer == "" {
		return "", "", fmt.Errorf("consumer is required")
	}
	return id, consumer, nil
}

// requireLeaseRow reports ErrNotFound when the caller no longer holds the lease.
func requireLeaseRow(result sql.Result, what string) error {
	rows, err := affected(result, what)
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanOutboxEvent(scan scanner) (storage.OutboxEvent, error) {
	var (
		event          storage.OutboxEvent
		status         string
		nextAttemptAt  int64
		createdAt      int64
		updatedAt      int64
		leaseExpiresAt sql.NullInt64
		processedAt    sql.NullInt64
	)
	if err := scan(
		&event.ID,
		&event.EventType,
		&event.PayloadJSON,
		&event.DedupeKey,
		&status,
		&event.AttemptCount,
		&nextAttemptAt,
		&event.LeaseOwner,
		&leaseExpiresAt,
		&event.LastError,
		&processedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.OutboxEvent{}, err
	}
	event.Status = storage.OutboxStatus(status)
	event.NextAttemptAt = fromMillis(nextAttemptAt)
	event.CreatedAt = fromMillis(createdAt)
	event.UpdatedAt = fromMillis(updatedAt)
	if leaseExpiresAt.Valid {
		value := fromMillis(leaseExpiresAt.Int64)
		event.LeaseExpiresAt = &value
	}
	if processedAt.Valid {
		value := fromMillis(processedAt.Int64)
		event.ProcessedAt = &value
	}
	return event, nil
}
