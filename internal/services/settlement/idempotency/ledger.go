// Package idempotency deduplicates mutating requests by caller key and
// request fingerprint.
//
// A first request inserts an in-flight record before doing any work and
// commits its response once the work's transaction has committed. Retries
// with the same key then replay the stored response, see the request as
// still in progress, or fail when the key is reused for a different request.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
)

// DefaultTTL bounds how long records are kept.
const DefaultTTL = 24 * time.Hour

const maxBeginAttempts = 3

// State is the lifecycle label of a record.
type State string

const (
	StateInFlight  State = "in_flight"
	StateCompleted State = "completed"
)

// Record is one stored idempotency entry. The raw caller key is never
// stored; KeyHash holds its SHA-256.
type Record struct {
	Scope          string
	KeyHash        string
	RequestHash    string
	State          State
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// Store persists idempotency records.
type Store interface {
	// InsertIdempotencyRecord inserts rec unless (scope, key_hash) exists,
	// reporting whether it inserted.
	InsertIdempotencyRecord(ctx context.Context, rec Record) (bool, error)
	GetIdempotencyRecord(ctx context.Context, scope, keyHash string) (Record, error)
	// ReplaceExpiredIdempotencyRecord overwrites the stored record only if it
	// expired at or before now, reporting whether it replaced.
	ReplaceExpiredIdempotencyRecord(ctx context.Context, rec Record, now time.Time) (bool, error)
	CompleteIdempotencyRecord(ctx context.Context, scope, keyHash, requestHash string, status int, body []byte, at time.Time) error
	DeleteInFlightIdempotencyRecord(ctx context.Context, scope, keyHash, requestHash string) error
	PurgeExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error)
}

// Outcome classifies a Begin call.
type Outcome string

const (
	OutcomeFresh      Outcome = "FRESH"
	OutcomeReplay     Outcome = "REPLAY"
	OutcomeConflict   Outcome = "CONFLICT"
	OutcomeInProgress Outcome = "IN_PROGRESS"
)

// Response is the terminal result stored for replay.
type Response struct {
	Status int
	Body   []byte
}

// Decision is the result of Begin. Response is set only for REPLAY.
type Decision struct {
	Outcome  Outcome
	Response *Response
}

var (
	// ErrKeyReused indicates a key already bound to a different request.
	ErrKeyReused = apperrors.New(apperrors.CodeIdempotencyKeyReused, "idempotency key reused with a different request")
	// ErrInProgress indicates the first request with this key has not finished.
	ErrInProgress = apperrors.New(apperrors.CodeIdempotencyInProgress, "idempotent request is still in progress")
)

// Ledger coordinates Begin/Commit/Release over a Store.
type Ledger struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewLedger builds a ledger. A non-positive ttl uses DefaultTTL.
func NewLedger(store Store, ttl time.Duration, now func() time.Time) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, ttl: ttl, now: now}
}

// Scope namespaces keys by operation and caller so two callers never
// collide on the same raw key.
func Scope(operation, actorID string) string {
	return strings.TrimSpace(operation) + ":" + strings.TrimSpace(actorID)
}

// HashKey returns the hex SHA-256 of a raw caller key.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes the logically relevant request fields. Payload is
// encoded with encoding/json, which orders map keys, so equal requests
// always produce equal fingerprints.
func Fingerprint(actorID, operation string, payload any) (string, error) {
	canonical, err := json.Marshal(struct {
		Actor     string `json:"actor"`
		Operation string `json:"operation"`
		Payload   any    `json:"payload"`
	}{Actor: actorID, Operation: operation, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("encode fingerprint: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Begin claims rawKey for the request identified by fingerprint. CONFLICT
// and IN_PROGRESS decisions come with ErrKeyReused and ErrInProgress.
func (l *Ledger) Begin(ctx context.Context, scope, rawKey, fingerprint string) (Decision, error) {
	if l == nil || l.store == nil {
		return Decision{}, fmt.Errorf("idempotency ledger is not configured")
	}
	if strings.TrimSpace(rawKey) == "" {
		return Decision{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "idempotency key is empty", map[string]string{"Reason": "idempotency key is empty"})
	}
	keyHash := HashKey(rawKey)

	for attempt := 0; attempt < maxBeginAttempts; attempt++ {
		now := l.now().UTC()
		fresh := Record{
			Scope:       scope,
			KeyHash:     keyHash,
			RequestHash: fingerprint,
			State:       StateInFlight,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(l.ttl),
		}
		inserted, err := l.store.InsertIdempotencyRecord(ctx, fresh)
		if err != nil {
			return Decision{}, fmt.Errorf("insert idempotency record: %w", err)
		}
		if inserted {
			return Decision{Outcome: OutcomeFresh}, nil
		}

		existing, err := l.store.GetIdempotencyRecord(ctx, scope, keyHash)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("get idempotency record: %w", err)
		}

		if !existing.ExpiresAt.After(now) {
			replaced, err := l.store.ReplaceExpiredIdempotencyRecord(ctx, fresh, now)
			if err != nil {
				return Decision{}, fmt.Errorf("replace expired idempotency record: %w", err)
			}
			if replaced {
				return Decision{Outcome: OutcomeFresh}, nil
			}
			continue
		}

		if existing.RequestHash != fingerprint {
			return Decision{Outcome: OutcomeConflict}, ErrKeyReused
		}
		if existing.State == StateCompleted {
			return Decision{
				Outcome:  OutcomeReplay,
				Response: &Response{Status: existing.ResponseStatus, Body: existing.ResponseBody},
			}, nil
		}
		return Decision{Outcome: OutcomeInProgress}, ErrInProgress
	}
	return Decision{}, fmt.Errorf("idempotency record for scope %s kept changing", scope)
}

// Commit stores the terminal response for a FRESH request.
func (l *Ledger) Commit(ctx context.Context, scope, rawKey, fingerprint string, response Response) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("idempotency ledger is not configured")
	}
	return l.store.CompleteIdempotencyRecord(ctx, scope, HashKey(rawKey), fingerprint, response.Status, response.Body, l.now().UTC())
}

// Release drops the in-flight record of a FRESH request whose work failed
// in a way the caller may retry.
func (l *Ledger) Release(ctx context.Context, scope, rawKey, fingerprint string) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("idempotency ledger is not configured")
	}
	return l.store.DeleteInFlightIdempotencyRecord(ctx, scope, HashKey(rawKey), fingerprint)
}

// PurgeExpired deletes expired records and returns how many were removed.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	if l == nil || l.store == nil {
		return 0, fmt.Errorf("idempotency ledger is not configured")
	}
	return l.store.PurgeExpiredIdempotencyRecords(ctx, l.now().UTC())
}
