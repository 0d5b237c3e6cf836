// Package dispute models refund and chargeback cases and their audit trail.
package dispute

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/shopspring/decimal"
)

// Status is the dispute case lifecycle label.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Source records how a case was opened.
type Source string

const (
	SourceRefundRequest Source = "refund_request"
	SourceChargeback    Source = "chargeback"
)

// Liability names the party that absorbs a dispute's financial outcome.
type Liability string

const (
	LiabilitySeller   Liability = "seller"
	LiabilityPlatform Liability = "platform"
	LiabilityProvider Liability = "provider"
	LiabilityShared   Liability = "shared"
)

// Outcome is the resolution decision of a case.
type Outcome string

const (
	OutcomeNone          Outcome = ""
	OutcomeRefundFull    Outcome = "refund_full"
	OutcomeRefundPartial Outcome = "refund_partial"
	OutcomeRejected      Outcome = "rejected"
)

// EventType labels an entry of the case audit trail.
type EventType string

const (
	EventOpened        EventType = "opened"
	EventReviewStarted EventType = "review_started"
	EventResolved      EventType = "resolved"
)

// Case is a refund or chargeback dispute for one order.
type Case struct {
	ID              string
	OrderID         string
	Source          Source
	Status          Status
	Liability       Liability
	Reason          string
	Outcome         Outcome
	RefundAmount    decimal.Decimal
	ProviderCaseRef string
	OpenedBy        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      time.Time
}

// Event is one append-only entry of a case audit trail.
type Event struct {
	ID         string
	DisputeID  string
	ActorID    string
	ActorRole  string
	Type       EventType
	FromStatus Status
	ToStatus   Status
	Liability  Liability
	Note       string
	CreatedAt  time.Time
}

var (
	// ErrNotFound indicates a missing dispute case.
	ErrNotFound = apperrors.WithMetadata(apperrors.CodeNotFound, "dispute not found", map[string]string{"Resource": "dispute"})
	// ErrInvalidLiability indicates an unknown liability label.
	ErrInvalidLiability = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "liability is invalid", map[string]string{"Reason": "liability must be seller, platform, provider or shared"})
	// ErrInvalidOutcome indicates an unknown outcome or a missing partial amount.
	ErrInvalidOutcome = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "outcome is invalid", map[string]string{"Reason": "outcome must be refund_full, refund_partial with an amount, or rejected"})
	// ErrRefundExceedsBalance indicates a refund larger than what is still
	// refundable on the order.
	ErrRefundExceedsBalance = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "refund exceeds refundable balance", map[string]string{"Reason": "refund amount exceeds the order total less refunds already granted"})
	// ErrFullyRefunded indicates an order whose gross has been refunded.
	ErrFullyRefunded = apperrors.WithMetadata(apperrors.CodeRefundNotAllowed, "order has already been fully refunded", map[string]string{"Reason": "order has already been fully refunded"})
)

// ParseLiability canonicalizes a liability label.
func ParseLiability(value string) (Liability, error) {
	switch l := Liability(strings.ToLower(strings.TrimSpace(value))); l {
	case LiabilitySeller, LiabilityPlatform, LiabilityProvider, LiabilityShared:
		return l, nil
	default:
		return "", ErrInvalidLiability
	}
}

// ParseOutcome canonicalizes an outcome label.
func ParseOutcome(value string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(value))); o {
	case OutcomeRefundFull, OutcomeRefundPartial, OutcomeRejected:
		return o, nil
	default:
		return OutcomeNone, ErrInvalidOutcome
	}
}

// DefaultLiability is the liability a new case starts with.
func DefaultLiability(source Source) Liability {
	if source == SourceChargeback {
		return LiabilityPlatform
	}
	return LiabilitySeller
}

// CanTransition reports whether a case may move from -> to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusUnderReview
	case StatusUnderReview:
		return to == StatusResolved
	default:
		return false
	}
}

// InvalidTransitionError reports a disallowed case move.
func InvalidTransitionError(from, to Status) error {
	return apperrors.WithMetadata(
		apperrors.CodeDisputeInvalidTransition,
		"dispute status transition is not allowed: "+string(from)+" -> "+string(to),
		map[string]string{"From": string(from), "To": string(to)},
	)
}

// RefundAmount returns the money a resolution grants against the order's
// refundable balance. Full refunds return the whole balance; partial refunds
// must carry a positive amount no larger than it; rejections return zero.
func RefundAmount(outcome Outcome, partial, balance decimal.Decimal) (decimal.Decimal, error) {
	switch outcome {
	case OutcomeRefundFull, OutcomeRefundPartial:
		if !balance.IsPositive() {
			return decimal.Zero, ErrFullyRefunded
		}
	}
	switch outcome {
	case OutcomeRefundFull:
		return balance, nil
	case OutcomeRefundPartial:
		if !partial.IsPositive() || !partial.Round(2).Equal(partial) {
			return decimal.Zero, ErrInvalidOutcome
		}
		if partial.GreaterThan(balance) {
			return decimal.Zero, ErrRefundExceedsBalance
		}
		return partial, nil
	case OutcomeRejected:
		return decimal.Zero, nil
	default:
		return decimal.Zero, ErrInvalidOutcome
	}
}

// GrantsRefund reports whether a resolved outcome moved money back to the
// buyer.
func (o Outcome) GrantsRefund() bool {
	return o == OutcomeRefundFull || o == OutcomeRefundPartial
}

// RefundableBalance returns gross less every refund already granted by the
// resolved cases of the order. It never goes below zero.
func RefundableBalance(gross decimal.Decimal, cases []Case) decimal.Decimal {
	balance := gross
	for _, c := range cases {
		if c.Status == StatusResolved && c.Outcome.GrantsRefund() {
			balance = balance.Sub(c.RefundAmount)
		}
	}
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

// SplitRefund returns the signed deltas a refund applies to the seller net
// and the platform commission. Provider liability records zero deltas. A
// shared refund is split in half with the seller absorbing the odd cent.
func SplitRefund(liability Liability, amount decimal.Decimal) (seller, platform decimal.Decimal) {
	switch liability {
	case LiabilitySeller:
		return amount.Neg(), decimal.Zero
	case LiabilityPlatform:
		return decimal.Zero, amount.Neg()
	case LiabilityShared:
		platformShare := amount.Div(decimal.NewFromInt(2)).RoundDown(2)
		sellerShare := amount.Sub(platformShare)
		return sellerShare.Neg(), platformShare.Neg()
	default:
		return decimal.Zero, decimal.Zero
	}
}
