package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/outbox"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
)

// Notification topics sent to order parties.
const (
	TopicPaymentReceived = "settlement.payment_received"
	TopicOrderPaid       = "settlement.order_paid"
	TopicPayoutScheduled = "settlement.payout_scheduled"
	TopicDisputeOpened   = "settlement.dispute_opened"
	TopicDisputeResolved = "settlement.dispute_resolved"
)

// Notification is one message to a single order party.
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Topic       string            `json:"topic"`
	DedupeKey   string            `json:"dedupe_key"`
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	Data        map[string]string `json:"data"`
}

// Notifier delivers notifications. Delivery must tolerate repeats of the same
// DedupeKey since outbox events are relayed at least once.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// OrderLookup resolves the parties of an order.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (order.Order, error)
}

// NotificationHandler turns settlement outbox events into party notifications.
type NotificationHandler struct {
	notifier Notifier
	orders   OrderLookup
}

// NewNotificationHandler creates a handler for every settlement event type.
func NewNotificationHandler(notifier Notifier, orders OrderLookup) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, orders: orders}
}

// Handle decodes event and delivers the notifications it implies.
func (h *NotificationHandler) Handle(ctx context.Context, event storage.OutboxEvent) error {
	if h == nil || h.notifier == nil {
		return Permanent(fmt.Errorf("notifier is not configured"))
	}
	notifications, err := h.notificationsFor(ctx, event)
	if err != nil {
		return err
	}
	for _, notification := range notifications {
		if err := h.notifier.Notify(ctx, notification); err != nil {
			return err
		}
	}
	return nil
}

func (h *NotificationHandler) notificationsFor(ctx context.Context, event storage.OutboxEvent) ([]Notification, error) {
	switch event.EventType {
	case outbox.EventOrderPaid:
		var data outbox.OrderPaid
		envelope, err := decode(event, &data)
		if err != nil {
			return nil, err
		}
		if err := requireFields(map[string]string{"order_id": data.OrderID, "buyer_id": data.BuyerID, "seller_id": data.SellerID}); err != nil {
			return nil, err
		}
		fields := map[string]string{
			"order_id":     data.OrderID,
			"gross_amount": data.GrossAmount.StringFixed(finance.MoneyPlaces),
			"currency":     data.Currency,
		}
		return []Notification{
			newNotification(envelope, data.BuyerID, TopicPaymentReceived, data.OrderID, fields),
			newNotification(envelope, data.SellerID, TopicOrderPaid, data.OrderID, fields),
		}, nil

	case outbox.EventOrderFinalized:
		var data outbox.OrderFinalized
		envelope, err := decode(event, &data)
		if err != nil {
			return nil, err
		}
		if err := requireFields(map[string]string{"order_id": data.OrderID, "seller_id": data.SellerID}); err != nil {
			return nil, err
		}
		return []Notification{
			newNotification(envelope, data.SellerID, TopicPayoutScheduled, data.OrderID, map[string]string{
				"order_id":          data.OrderID,
				"gross_amount":      data.GrossAmount.StringFixed(finance.MoneyPlaces),
				"commission_amount": data.CommissionAmount.StringFixed(finance.MoneyPlaces),
				"seller_net_amount": data.SellerNetAmount.StringFixed(finance.MoneyPlaces),
			}),
		}, nil

	case outbox.EventDisputeOpened, outbox.EventDisputeResolved:
		var data outbox.DisputeChanged
		envelope, err := decode(event, &data)
		if err != nil {
			return nil, err
		}
		if err := requireFields(map[string]string{"dispute_id": data.DisputeID, "order_id": data.OrderID}); err != nil {
			return nil, err
		}
		parties, err := h.parties(ctx, data.OrderID)
		if err != nil {
			return nil, err
		}
		topic := TopicDisputeOpened
		if event.EventType == outbox.EventDisputeResolved {
			topic = TopicDisputeResolved
		}
		fields := map[string]string{
			"dispute_id":    data.DisputeID,
			"order_id":      data.OrderID,
			"status":        data.Status,
			"source":        data.Source,
			"refund_amount": data.RefundAmount.StringFixed(finance.MoneyPlaces),
		}
		if data.Outcome != "" {
			fields["outcome"] = data.Outcome
		}
		if data.SellerAmount != nil {
			fields["seller_amount"] = data.SellerAmount.StringFixed(finance.MoneyPlaces)
		}
		notifications := make([]Notification, 0, len(parties))
		for _, recipient := range parties {
			notifications = append(notifications, newNotification(envelope, recipient, topic, data.DisputeID, fields))
		}
		return notifications, nil

	default:
		return nil, Permanent(fmt.Errorf("unsupported event type %q", event.EventType))
	}
}

// parties returns the buyer and seller of orderID.
func (h *NotificationHandler) parties(ctx context.Context, orderID string) ([]string, error) {
	if h.orders == nil {
		return nil, Permanent(fmt.Errorf("order lookup is not configured"))
	}
	o, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Permanent(fmt.Errorf("order %s not found: %w", orderID, err))
		}
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return []string{o.BuyerID, o.SellerID}, nil
}

func decode(event storage.OutboxEvent, out any) (outbox.Envelope, error) {
	envelope, err := outbox.Decode(event.PayloadJSON, out)
	if err != nil {
		return outbox.Envelope{}, Permanent(err)
	}
	return envelope, nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return Permanent(fmt.Errorf("%s is required in event payload", name))
		}
	}
	return nil
}

func newNotification(envelope outbox.Envelope, recipientID, topic, subjectID string, data map[string]string) Notification {
	return Notification{
		RecipientID: recipientID,
		Topic:       topic,
		DedupeKey:   topic + ":" + subjectID + ":" + recipientID,
		EventID:     envelope.EventID,
		EventType:   envelope.EventType,
		Data:        data,
	}
}
