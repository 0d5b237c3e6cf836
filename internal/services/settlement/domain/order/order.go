package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a marketplace order between one buyer and one seller.
type Order struct {
	ID          string
	Status      Status
	BuyerID     string
	SellerID    string
	GrossAmount decimal.Decimal
	Currency    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Actor is the caller requesting a status change.
type Actor struct {
	ID   string
	Role Role
}

// New validates placement input and returns an order awaiting seller
// approval. Amount validation lives with the money helpers in the finance
// package; New only checks the parties.
func New(id, buyerID, sellerID string, gross decimal.Decimal, currency string, now time.Time) (Order, error) {
	buyerID = strings.TrimSpace(buyerID)
	sellerID = strings.TrimSpace(sellerID)
	if buyerID == "" || sellerID == "" {
		return Order{}, ErrEmptyParty
	}
	if buyerID == sellerID {
		return Order{}, ErrSelfDealing
	}
	now = now.UTC()
	return Order{
		ID:          id,
		Status:      StatusPendingSellerApproval,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		GrossAmount: gross,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsParty reports whether actor is this order's buyer or seller in the role
// they claim. An actor without an id is trusted on role alone.
func (o Order) IsParty(actor Actor) bool {
	if actor.ID == "" {
		return true
	}
	switch actor.Role {
	case RoleBuyer:
		return actor.ID == o.BuyerID
	case RoleSeller:
		return actor.ID == o.SellerID
	default:
		return false
	}
}

// ValidateActorTransition checks a direct status request. Reachability is
// checked before permission so a request that no actor could ever satisfy
// from the current state reports INVALID_TRANSITION.
func ValidateActorTransition(o Order, actor Actor, to Status) error {
	if !CanTransition(o.Status, to) {
		return InvalidTransitionError(o.Status, to)
	}
	if !CanActorSetStatus(actor.Role, to) || !o.IsParty(actor) {
		return ForbiddenTransitionError(actor.Role, to)
	}
	return nil
}
