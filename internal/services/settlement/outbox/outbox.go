// Package outbox defines the settlement integration events written to the
// transactional outbox and decoded by relay workers.
package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
)

// Event types emitted by the settlement service.
const (
	EventOrderPaid       = "order.paid"
	EventOrderFinalized  = "order.finalized"
	EventDisputeOpened   = "dispute.opened"
	EventDisputeResolved = "dispute.resolved"
)

// EventTypes lists every type a relay is expected to handle.
var EventTypes = []string{
	EventOrderPaid,
	EventOrderFinalized,
	EventDisputeOpened,
	EventDisputeResolved,
}

// Envelope is the JSON document stored as an outbox payload.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// OrderPaid reports a verified provider payment.
type OrderPaid struct {
	OrderID         string          `json:"order_id"`
	BuyerID         string          `json:"buyer_id"`
	SellerID        string          `json:"seller_id"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	Currency        string          `json:"currency"`
	ProviderEventID string          `json:"provider_event_id"`
}

// OrderFinalized reports the commission snapshot of a paid order.
type OrderFinalized struct {
	OrderID          string          `json:"order_id"`
	SellerID         string          `json:"seller_id"`
	GrossAmount      decimal.Decimal `json:"gross_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	SellerNetAmount  decimal.Decimal `json:"seller_net_amount"`
}

// DisputeChanged reports an opened or resolved dispute. Adjustment amounts
// are set only when a resolution produced a finance adjustment.
type DisputeChanged struct {
	DisputeID      string           `json:"dispute_id"`
	OrderID        string           `json:"order_id"`
	Source         string           `json:"source"`
	Status         string           `json:"status"`
	Liability      string           `json:"liability"`
	Outcome        string           `json:"outcome,omitempty"`
	RefundAmount   decimal.Decimal  `json:"refund_amount"`
	SellerAmount   *decimal.Decimal `json:"seller_amount,omitempty"`
	PlatformAmount *decimal.Decimal `json:"platform_amount,omitempty"`
}

// DedupeKey derives the outbox dedupe key of an event about subject.
func DedupeKey(eventType, subjectID string) string {
	return eventType + ":" + subjectID
}

// New wraps data in an envelope and returns the outbox row to enqueue.
func New(eventID, eventType, subjectID string, data any, at time.Time) (storage.OutboxEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return storage.OutboxEvent{}, fmt.Errorf("outbox event id is required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return storage.OutboxEvent{}, fmt.Errorf("encode %s data: %w", eventType, err)
	}
	at = at.UTC()
	payload, err := json.Marshal(Envelope{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: at,
		Data:       raw,
	})
	if err != nil {
		return storage.OutboxEvent{}, fmt.Errorf("encode %s envelope: %w", eventType, err)
	}
	return storage.OutboxEvent{
		ID:            eventID,
		EventType:     eventType,
		PayloadJSON:   string(payload),
		DedupeKey:     DedupeKey(eventType, subjectID),
		Status:        storage.OutboxStatusPending,
		NextAttemptAt: at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}, nil
}

// Decode parses an envelope and unmarshals its data into out.
func Decode(payload string, out any) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode outbox envelope: %w", err)
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		return Envelope{}, fmt.Errorf("outbox envelope event_id is required")
	}
	if out != nil {
		if len(envelope.Data) == 0 {
			return Envelope{}, fmt.Errorf("outbox envelope data is empty")
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return Envelope{}, fmt.Errorf("decode %s data: %w", envelope.EventType, err)
		}
	}
	return envelope, nil
}
