package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/shopspring/decimal"
)

// EventType names a provider callback.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventChargebackOpened EventType = "chargeback.opened"
)

// Event is a decoded provider callback.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the order-specific part of a callback. Amount is only
// present on chargebacks and some success events.
type EventData struct {
	OrderID    string           `json:"order_id"`
	SessionRef string           `json:"session_ref"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	CaseRef    string           `json:"case_ref,omitempty"`
}

// ParseEvent decodes a verified callback payload.
func ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, invalidEvent(fmt.Sprintf("decode callback: %v", err))
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Data.OrderID = strings.TrimSpace(event.Data.OrderID)
	event.Data.SessionRef = strings.TrimSpace(event.Data.SessionRef)
	event.Data.CaseRef = strings.TrimSpace(event.Data.CaseRef)

	if event.ID == "" {
		return Event{}, invalidEvent("callback id is required")
	}
	if event.Data.OrderID == "" {
		return Event{}, invalidEvent("callback order_id is required")
	}
	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
	case EventChargebackOpened:
		if event.Data.CaseRef == "" {
			return Event{}, invalidEvent("chargeback case_ref is required")
		}
	default:
		return Event{}, invalidEvent(fmt.Sprintf("unsupported callback type %q", event.Type))
	}
	return event, nil
}

func invalidEvent(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, reason, map[string]string{"Reason": reason})
}
