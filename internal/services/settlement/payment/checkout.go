package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/settlement/internal/platform/id"
	"github.com/shopspring/decimal"
)

// CheckoutRequest describes the session to open with the provider.
type CheckoutRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	SessionRef  string
	RedirectURL string
}

// CheckoutProvider opens checkout sessions with a payment provider.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// LocalCheckout generates session references without a provider round-trip.
type LocalCheckout struct {
	// BaseURL prefixes redirect URLs. Empty leaves RedirectURL blank.
	BaseURL string
}

// CreateSession returns a fresh local session reference.
func (c LocalCheckout) CreateSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return CheckoutSession{}, err
	}
	ref, err := id.WithPrefix("cs")
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	session := CheckoutSession{SessionRef: ref}
	if base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); base != "" {
		session.RedirectURL = base + "/checkout/" + ref
	}
	return session, nil
}

var _ CheckoutProvider = LocalCheckout{}
