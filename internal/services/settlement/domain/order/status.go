package order

import "strings"

// Status describes where an order sits in its lifecycle.
type Status string

const (
	StatusUnspecified           Status = ""
	StatusPendingSellerApproval Status = "pending_seller_approval"
	StatusSellerApproved        Status = "seller_approved"
	StatusAwaitingPayment       Status = "awaiting_payment"
	StatusPaid                  Status = "paid"
	StatusPreparing             Status = "preparing"
	StatusReady                 Status = "ready"
	StatusInDelivery            Status = "in_delivery"
	StatusDelivered             Status = "delivered"
	StatusCompleted             Status = "completed"
	StatusRejected              Status = "rejected"
	StatusCancelled             Status = "cancelled"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusPendingSellerApproval,
	StatusSellerApproved,
	StatusAwaitingPayment,
	StatusPaid,
	StatusPreparing,
	StatusReady,
	StatusInDelivery,
	StatusDelivered,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusPendingSellerApproval: {StatusSellerApproved, StatusRejected, StatusCancelled},
	StatusSellerApproved:        {StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment:       {StatusPaid, StatusCancelled},
	StatusPaid:                  {StatusPreparing, StatusCancelled},
	StatusPreparing:             {StatusReady},
	StatusReady:                 {StatusInDelivery, StatusDelivered},
	StatusInDelivery:            {StatusDelivered},
	StatusDelivered:             {StatusCompleted},
}

// ParseStatus canonicalizes a status label.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range Statuses {
		if status == candidate {
			return status, true
		}
	}
	return StatusUnspecified, false
}

// IsTerminal reports whether no transition leaves status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// ReachedPayment reports whether an order in this status has been paid at
// some point. Cancelled orders are excluded because cancellation may happen
// before payment.
func (s Status) ReachedPayment() bool {
	switch s {
	case StatusPaid, StatusPreparing, StatusReady, StatusInDelivery, StatusDelivered, StatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
