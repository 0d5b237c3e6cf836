package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
)

const orderColumns = `id, status, buyer_id, seller_id, gross_amount, currency, created_at, updated_at`

// PutOrder inserts a new order.
func (s *Store) PutOrder(ctx context.Context, o order.Order) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("order id is required")
	}

	_, err := s.q.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		o.ID,
		string(o.Status),
		o.BuyerID,
		o.SellerID,
		moneyText(o.GrossAmount),
		o.Currency,
		toMillis(o.CreatedAt),
		toMillis(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// GetOrder fetches an order by ID.
func (s *Store) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	if err := s.ready(ctx); err != nil {
		return order.Order{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return order.Order{}, fmt.Errorf("order id is required")
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
	o, err := scanOrder(row.Scan)
	if err != nil {
		return order.Order{}, notFoundOr(err, "get order")
	}
	return o, nil
}

// UpdateOrderStatus moves an order from -> to as a compare-and-set.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to order.Status, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, `
UPDATE orders
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
`, string(to), toMillis(at), orderID, string(from))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, err := affected(result, "update order status")
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID)
	}
	return nil
}

func scanOrder(scan scanner) (order.Order, error) {
	var (
		o         order.Order
		status    string
		gross     string
		createdAt int64
		updatedAt int64
	)
	if err := scan(&o.ID, &status, &o.BuyerID, &o.SellerID, &gross, &o.Currency, &createdAt, &updatedAt); err != nil {
		return order.Order{}, err
	}
	amount, err := parseDecimal("gross_amount", gross)
	if err != nil {
		return order.Order{}, err
	}
	o.Status = order.Status(status)
	o.GrossAmount = amount
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	return o, nil
}

const paymentAttemptColumns = `id, order_id, provider_session_ref, status, signature_checksum, provider_event_id, created_at, updated_at`

// PutPaymentAttempt inserts a checkout attempt.
func (s *Store) PutPaymentAttempt(ctx context.Context, attempt storage.PaymentAttempt) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(attempt.ID) == "" {
		return fmt.Errorf("payment attempt id is required")
	}
	if strings.TrimSpace(attempt.ProviderSessionRef) == "" {
		return fmt.Errorf("provider session ref is required")
	}
	if attempt.Status == "" {
		attempt.Status = storage.PaymentStatusPending
	}

	_, err := s.q.ExecContext(ctx, `
INSERT INTO payment_attempts (`+paymentAttemptColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		attempt.ID,
		attempt.OrderID,
		attempt.ProviderSessionRef,
		string(attempt.Status),
		attempt.SignatureChecksum,
		attempt.ProviderEventID,
		toMillis(attempt.CreatedAt),
		toMillis(attempt.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put payment attempt: %w", err)
	}
	return nil
}

// GetPaymentAttemptBySession fetches an attempt by provider session ref.
func (s *Store) GetPaymentAttemptBySession(ctx context.Context, sessionRef string) (storage.PaymentAttempt, error) {
	if err := s.ready(ctx); err != nil {
		return storage.PaymentAttempt{}, err
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return storage.PaymentAttempt{}, fmt.Errorf("session ref is required")
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+paymentAttemptColumns+` FROM payment_attempts WHERE provider_session_ref = ?`, sessionRef)
	attempt, err := scanPaymentAttempt(row.Scan)
	if err != nil {
		return storage.PaymentAttempt{}, notFoundOr(err, "get payment attempt")
	}
	return attempt, nil
}

// ListPaymentAttempts returns the attempts of an order, oldest first.
func (s *Store) ListPaymentAttempts(ctx context.Context, orderID string) ([]storage.PaymentAttempt, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
SELECT `+paymentAttemptColumns+`
FROM payment_attempts
WHERE order_id = ?
ORDER BY created_at ASC, id ASC
`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]storage.PaymentAttempt, 0)
	for rows.Next() {
		attempt, err := scanPaymentAttempt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment attempts: %w", err)
	}
	return attempts, nil
}

// MarkPaymentAttempt settles a pending attempt.
func (s *Store) MarkPaymentAttempt(ctx context.Context, attemptID string, status storage.PaymentStatus, checksum string, providerEventID string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if status != storage.PaymentStatusSucceeded && status != storage.PaymentStatusFailed {
		return fmt.Errorf("payment attempt can only settle as succeeded or failed")
	}

	result, err := s.q.ExecContext(ctx, `
UPDATE payment_attempts
SET status = ?, signature_checksum = ?, provider_event_id = ?, updated_at = ?
WHERE id = ? AND status = ?
`, string(status), checksum, providerEventID, toMillis(at), attemptID, string(storage.PaymentStatusPending))
	if err != nil {
		return fmt.Errorf("mark payment attempt: %w", err)
	}
	rows, err := affected(result, "mark payment attempt")
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM payment_attempts WHERE id = ?`, attemptID)
	}
	return nil
}

// PutProviderEvent records a provider event id once.
func (s *Store) PutProviderEvent(ctx context.Context, event storage.ProviderEvent) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if strings.TrimSpace(event.ProviderEventID) == "" {
		return false, fmt.Errorf("provider event id is required")
	}

	result, err := s.q.ExecContext(ctx, `
INSERT INTO provider_events (provider_event_id, event_type, order_id, received_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(provider_event_id) DO NOTHING
`, event.ProviderEventID, event.EventType, event.OrderID, toMillis(event.ReceivedAt))
	if err != nil {
		return false, fmt.Errorf("put provider event: %w", err)
	}
	rows, err := affected(result, "put provider event")
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func scanPaymentAttempt(scan scanner) (storage.PaymentAttempt, error) {
	var (
		attempt   storage.PaymentAttempt
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := scan(
		&attempt.ID,
		&attempt.OrderID,
		&attempt.ProviderSessionRef,
		&status,
		&attempt.SignatureChecksum,
		&attempt.ProviderEventID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.PaymentAttempt{}, err
	}
	attempt.Status = storage.PaymentStatus(status)
	attempt.CreatedAt = fromMillis(createdAt)
	attempt.UpdatedAt = fromMillis(updatedAt)
	return attempt, nil
}

// missingOrConflict classifies a compare-and-set that touched no rows.
func (s *Store) missingOrConflict(ctx context.Context, existsQuery string, id string) error {
	var found int
	if err := s.q.QueryRowContext(ctx, existsQuery, id).Scan(&found); err != nil {
		return notFoundOr(err, "check record")
	}
	return storage.ErrConflict
}
