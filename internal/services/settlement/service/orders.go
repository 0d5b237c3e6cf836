package service

import (
	"context"
	"errors"
	"strings"

	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// PlaceOrderInput describes a new order placed by a buyer.
type PlaceOrderInput struct {
	SellerID    string
	GrossAmount decimal.Decimal
	Currency    string
}

// PlaceOrder creates an order in pending_seller_approval for the calling buyer.
func (s *Service) PlaceOrder(ctx context.Context, actor order.Actor, in PlaceOrderInput) (_ order.Order, err error) {
	ctx, span := s.startSpan(ctx, "PlaceOrder", attribute.String("actor.role", string(actor.Role)))
	defer func() { endSpan(span, err) }()

	if actor.Role != order.RoleBuyer || strings.TrimSpace(actor.ID) == "" {
		return order.Order{}, permissionDenied("placing an order")
	}
	if err := finance.ValidateAmount(in.GrossAmount); err != nil {
		return order.Order{}, err
	}
	currency, err := finance.NormalizeCurrency(in.Currency, s.currency)
	if err != nil {
		return order.Order{}, err
	}
	orderID, err := s.nextID()
	if err != nil {
		return order.Order{}, err
	}
	o, err := order.New(orderID, actor.ID, in.SellerID, in.GrossAmount, currency, s.clock())
	if err != nil {
		return order.Order{}, err
	}
	if err := s.store.PutOrder(ctx, o); err != nil {
		return order.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

// GetOrder returns an order visible to actor.
func (s *Service) GetOrder(ctx context.Context, actor order.Actor, orderID string) (_ order.Order, err error) {
	ctx, span := s.startSpan(ctx, "GetOrder", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	o, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if !visibleTo(o, actor) {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

// SetOrderStatus applies a caller-initiated transition. Paid is reachable
// only through a verified payment callback.
func (s *Service) SetOrderStatus(ctx context.Context, actor order.Actor, orderID string, target string) (_ order.Order, err error) {
	ctx, span := s.startSpan(ctx, "SetOrderStatus",
		attribute.String("order.id", orderID),
		attribute.String("order.to", target),
		attribute.String("actor.role", string(actor.Role)),
	)
	defer func() { endSpan(span, err) }()

	to, ok := order.ParseStatus(target)
	if !ok {
		return order.Order{}, invalidArgument("unknown order status " + strings.TrimSpace(target))
	}

	var updated order.Order
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		o, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !visibleTo(o, actor) {
			return order.ErrNotFound
		}
		if err := order.ValidateActorTransition(o, actor, to); err != nil {
			return err
		}
		now := s.clock()
		if err := tx.UpdateOrderStatus(ctx, o.ID, o.Status, to, now); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return order.InvalidTransitionError(o.Status, to)
			}
			return err
		}
		if to == order.StatusCompleted {
			// Fills a missing snapshot; an existing one is kept.
			if _, _, err := s.finalizeInTx(ctx, tx, o, now); err != nil {
				return err
			}
		}
		o.Status = to
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	return updated, nil
}
