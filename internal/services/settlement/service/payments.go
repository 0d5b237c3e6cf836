package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/outbox"
	"github.com/louisbranch/settlement/internal/services/settlement/payment"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// PaymentSession is a started checkout.
type PaymentSession struct {
	AttemptID   string
	OrderID     string
	SessionRef  string
	RedirectURL string
	Amount      decimal.Decimal
	Currency    string
	Status      storage.PaymentStatus
	CreatedAt   time.Time
}

// PaymentStatusReport is the read-only payment view of an order.
type PaymentStatusReport struct {
	OrderID     string
	OrderStatus order.Status
	Paid        bool
	Attempts    []storage.PaymentAttempt
}

// CallbackResult describes how a provider callback was applied.
type CallbackResult struct {
	EventID     string
	EventType   payment.EventType
	OrderID     string
	OrderStatus order.Status
	DisputeID   string
	Duplicate   bool
}

func paymentNotAllowed(status order.Status) error {
	return apperrors.WithMetadata(
		apperrors.CodePaymentNotAllowed,
		"payment cannot start while order is "+string(status),
		map[string]string{"Status": string(status)},
	)
}

// StartPayment opens a checkout session for an order awaiting payment.
func (s *Service) StartPayment(ctx context.Context, actor order.Actor, orderID string) (_ PaymentSession, err error) {
	ctx, span := s.startSpan(ctx, "StartPayment", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	o, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return PaymentSession{}, err
	}
	if !visibleTo(o, actor) {
		return PaymentSession{}, order.ErrNotFound
	}
	if actor.Role != order.RoleBuyer || actor.ID != o.BuyerID {
		return PaymentSession{}, order.ForbiddenTransitionError(actor.Role, order.StatusPaid)
	}
	if o.Status != order.StatusAwaitingPayment {
		return PaymentSession{}, paymentNotAllowed(o.Status)
	}

	session, err := s.checkout.CreateSession(ctx, payment.CheckoutRequest{
		OrderID:  o.ID,
		Amount:   o.GrossAmount,
		Currency: o.Currency,
	})
	if err != nil {
		return PaymentSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	if strings.TrimSpace(session.SessionRef) == "" {
		return PaymentSession{}, fmt.Errorf("checkout provider returned an empty session reference")
	}
	attemptID, err := s.nextID()
	if err != nil {
		return PaymentSession{}, err
	}
	now := s.clock()
	attempt := storage.PaymentAttempt{
		ID:                 attemptID,
		OrderID:            o.ID,
		ProviderSessionRef: session.SessionRef,
		Status:             storage.PaymentStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.PutPaymentAttempt(ctx, attempt); err != nil {
		return PaymentSession{}, err
	}
	return PaymentSession{
		AttemptID:   attempt.ID,
		OrderID:     o.ID,
		SessionRef:  session.SessionRef,
		RedirectURL: session.RedirectURL,
		Amount:      o.GrossAmount,
		Currency:    o.Currency,
		Status:      attempt.Status,
		CreatedAt:   now,
	}, nil
}

// CheckPaymentStatus reports the payment state of an order. It never changes
// order state; only a verified callback marks an order paid.
func (s *Service) CheckPaymentStatus(ctx context.Context, actor order.Actor, orderID string) (_ PaymentStatusReport, err error) {
	ctx, span := s.startSpan(ctx, "CheckPaymentStatus", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	o, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return PaymentStatusReport{}, err
	}
	if !visibleTo(o, actor) {
		return PaymentStatusReport{}, order.ErrNotFound
	}
	attempts, err := s.store.ListPaymentAttempts(ctx, o.ID)
	if err != nil {
		return PaymentStatusReport{}, err
	}
	report := PaymentStatusReport{OrderID: o.ID, OrderStatus: o.Status, Attempts: attempts}
	for _, attempt := range attempts {
		if attempt.Status == storage.PaymentStatusSucceeded {
			report.Paid = true
		}
	}
	return report, nil
}

// ConfirmPaymentCallback verifies and applies a provider callback. A
// replayed provider event, or a success for an order already paid, is a
// successful no-op reported as Duplicate.
func (s *Service) ConfirmPaymentCallback(ctx context.Context, payload []byte, signature string) (_ CallbackResult, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmPaymentCallback")
	defer func() { endSpan(span, err) }()

	if err := s.verifier.Verify(payload, signature); err != nil {
		return CallbackResult{}, err
	}
	event, err := payment.ParseEvent(payload)
	if err != nil {
		return CallbackResult{}, err
	}
	span.SetAttributes(
		attribute.String("provider.event_id", event.ID),
		attribute.String("provider.event_type", string(event.Type)),
		attribute.String("order.id", event.Data.OrderID),
	)
	checksum := s.verifier.Checksum(payload)

	var result CallbackResult
	switch event.Type {
	case payment.EventPaymentSucceeded:
		result, err = s.applyPaymentSucceeded(ctx, event, checksum)
	case payment.EventPaymentFailed:
		result, err = s.applyPaymentFailed(ctx, event, checksum)
	case payment.EventChargebackOpened:
		result, err = s.openChargeback(ctx, event)
	default:
		err = invalidArgument("unsupported callback type " + string(event.Type))
	}
	if err != nil {
		return CallbackResult{}, err
	}
	span.SetAttributes(attribute.Bool("duplicate", result.Duplicate))
	return result, nil
}

func (s *Service) applyPaymentSucceeded(ctx context.Context, event payment.Event, checksum string) (CallbackResult, error) {
	result := CallbackResult{EventID: event.ID, EventType: event.Type, OrderID: event.Data.OrderID}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		now := s.clock()
		fresh, err := recordProviderEvent(ctx, tx, event, now)
		if err != nil {
			return err
		}
		o, err := loadOrder(ctx, tx, event.Data.OrderID)
		if err != nil {
			return err
		}
		result.OrderStatus = o.Status
		if !fresh || o.Status.ReachedPayment() {
			result.Duplicate = true
			return nil
		}
		if event.Data.Amount != nil && !event.Data.Amount.Equal(o.GrossAmount) {
			return invalidArgument("callback amount does not match the order total")
		}
		if !order.CanTransition(o.Status, order.StatusPaid) {
			return order.InvalidTransitionError(o.Status, order.StatusPaid)
		}
		if err := tx.UpdateOrderStatus(ctx, o.ID, o.Status, order.StatusPaid, now); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return order.InvalidTransitionError(o.Status, order.StatusPaid)
			}
			return err
		}
		o.Status = order.StatusPaid
		o.UpdatedAt = now

		if err := s.settleAttempt(ctx, tx, o.ID, event, storage.PaymentStatusSucceeded, checksum, now); err != nil {
			return err
		}
		if err := s.enqueue(ctx, tx, outbox.EventOrderPaid, o.ID, outbox.OrderPaid{
			OrderID:         o.ID,
			BuyerID:         o.BuyerID,
			SellerID:        o.SellerID,
			GrossAmount:     o.GrossAmount,
			Currency:        o.Currency,
			ProviderEventID: event.ID,
		}, now); err != nil {
			return err
		}
		if _, _, err := s.finalizeInTx(ctx, tx, o, now); err != nil {
			return err
		}
		result.OrderStatus = o.Status
		return nil
	})
	if err != nil {
		return CallbackResult{}, err
	}
	return result, nil
}

func (s *Service) applyPaymentFailed(ctx context.Context, event payment.Event, checksum string) (CallbackResult, error) {
	result := CallbackResult{EventID: event.ID, EventType: event.Type, OrderID: event.Data.OrderID}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		now := s.clock()
		fresh, err := recordProviderEvent(ctx, tx, event, now)
		if err != nil {
			return err
		}
		o, err := loadOrder(ctx, tx, event.Data.OrderID)
		if err != nil {
			return err
		}
		result.OrderStatus = o.Status
		if !fresh {
			result.Duplicate = true
			return nil
		}
		return s.settleAttempt(ctx, tx, o.ID, event, storage.PaymentStatusFailed, checksum, now)
	})
	if err != nil {
		return CallbackResult{}, err
	}
	return result, nil
}

func recordProviderEvent(ctx context.Context, tx storage.PaymentStore, event payment.Event, at time.Time) (bool, error) {
	return tx.PutProviderEvent(ctx, storage.ProviderEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		OrderID:         event.Data.OrderID,
		ReceivedAt:      at,
	})
}

// settleAttempt marks the attempt matched by session reference, or the
// latest pending attempt of the order. A success with no settleable attempt
// is still recorded as its own attempt row; a failure with none is dropped.
func (s *Service) settleAttempt(ctx context.Context, tx storage.Tx, orderID string, event payment.Event, status storage.PaymentStatus, checksum string, at time.Time) error {
	attempt, found, err := findAttempt(ctx, tx, orderID, event.Data.SessionRef)
	if err != nil {
		return err
	}
	if found {
		err := tx.MarkPaymentAttempt(ctx, attempt.ID, status, checksum, event.ID, at)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
	}
	if status != storage.PaymentStatusSucceeded {
		return nil
	}
	attemptID, err := s.nextID()
	if err != nil {
		return err
	}
	return tx.PutPaymentAttempt(ctx, storage.PaymentAttempt{
		ID:                 attemptID,
		OrderID:            orderID,
		ProviderSessionRef: "evt_" + event.ID,
		Status:             storage.PaymentStatusSucceeded,
		SignatureChecksum:  checksum,
		ProviderEventID:    event.ID,
		CreatedAt:          at,
		UpdatedAt:          at,
	})
}

func findAttempt(ctx context.Context, tx storage.PaymentStore, orderID, sessionRef string) (storage.PaymentAttempt, bool, error) {
	if sessionRef != "" {
		attempt, err := tx.GetPaymentAttemptBySession(ctx, sessionRef)
		switch {
		case err == nil:
			if attempt.OrderID != orderID {
				return storage.PaymentAttempt{}, false, invalidArgument("callback session belongs to another order")
			}
			return attempt, true, nil
		case !errors.Is(err, storage.ErrNotFound):
			return storage.PaymentAttempt{}, false, err
		}
	}
	attempts, err := tx.ListPaymentAttempts(ctx, orderID)
	if err != nil {
		return storage.PaymentAttempt{}, false, err
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Status == storage.PaymentStatusPending {
			return attempts[i], true, nil
		}
	}
	return storage.PaymentAttempt{}, false, nil
}
