package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/idempotency"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
)

// InsertIdempotencyRecord inserts rec unless its (scope, key_hash) exists.
func (s *Store) InsertIdempotencyRecord(ctx context.Context, rec idempotency.Record) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	result, err := s.q.ExecContext(ctx, `
INSERT INTO idempotency_records (scope, key_hash, request_hash, state, response_status, response_body, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(scope, key_hash) DO NOTHING
`,
		rec.Scope,
		rec.KeyHash,
		rec.RequestHash,
		string(rec.State),
		rec.ResponseStatus,
		rec.ResponseBody,
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
		toMillis(rec.ExpiresAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", err)
	}
	rows, err := affected(result, "insert idempotency record")
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// GetIdempotencyRecord fetches one record.
func (s *Store) GetIdempotencyRecord(ctx context.Context, scope, keyHash string) (idempotency.Record, error) {
	if err := s.ready(ctx); err != nil {
		return idempotency.Record{}, err
	}

	var (
		rec       idempotency.Record
		state     string
		createdAt int64
		updatedAt int64
		expiresAt int64
	)
	err := s.q.QueryRowContext(ctx, `
SELECT scope, key_hash, request_hash, state, response_status, response_body, created_at, updated_at, expires_at
FROM idempotency_records
WHERE scope = ? AND key_hash = ?
`, scope, keyHash).Scan(
		&rec.Scope,
		&rec.KeyHash,
		&rec.RequestHash,
		&state,
		&rec.ResponseStatus,
		&rec.ResponseBody,
		&createdAt,
		&updatedAt,
		&expiresAt,
	)
	if err != nil {
		return idempotency.Record{}, notFoundOr(err, "get idempotency record")
	}
	rec.State = idempotency.State(state)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	rec.ExpiresAt = fromMillis(expiresAt)
	return rec, nil
}

// ReplaceExpiredIdempotencyRecord overwrites a record that expired at or before now.
func (s *Store) ReplaceExpiredIdempotencyRecord(ctx context.Context, rec idempotency.Record, now time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}

	result, err := s.q.ExecContext(ctx, `
UPDATE idempotency_records
SET request_hash = ?, state = ?, response_status = 0, response_body = NULL, created_at = ?, updated_at = ?, expires_at = ?
WHERE scope = ? AND key_hash = ? AND expires_at <= ?
`,
		rec.RequestHash,
		string(rec.State),
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
		toMillis(rec.ExpiresAt),
		rec.Scope,
		rec.KeyHash,
		toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("replace expired idempotency record: %w", err)
	}
	rows, err := affected(result, "replace expired idempotency record")
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CompleteIdempotencyRecord stores the terminal response of an in-flight record.
func (s *Store) CompleteIdempotencyRecord(ctx context.Context, scope, keyHash, requestHash string, status int, body []byte, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, `
UPDATE idempotency_records
SET state = ?, response_status = ?, response_body = ?, updated_at = ?
WHERE scope = ? AND key_hash = ? AND request_hash = ? AND state = ?
`,
		string(idempotency.StateCompleted),
		status,
		body,
		toMillis(at),
		scope,
		keyHash,
		requestHash,
		string(idempotency.StateInFlight),
	)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	rows, err := affected(result, "complete idempotency record")
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteInFlightIdempotencyRecord drops an in-flight record so the key can be retried.
func (s *Store) DeleteInFlightIdempotencyRecord(ctx context.Context, scope, keyHash, requestHash string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `
DELETE FROM idempotency_records
WHERE scope = ? AND key_hash = ? AND request_hash = ? AND state = ?
`, scope, keyHash, requestHash, string(idempotency.StateInFlight))
	if err != nil {
		return fmt.Errorf("delete in-flight idempotency record: %w", err)
	}
	return nil
}

// PurgeExpiredIdempotencyRecords deletes records expired at or before now.
func (s *Store) PurgeExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	result, err := s.q.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return affected(result, "purge idempotency records")
}
