package service

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/dispute"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/outbox"
	"github.com/louisbranch/settlement/internal/services/settlement/payment"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// providerActorID attributes chargeback events to the payment provider.
const providerActorID = "payment-provider"

// RefundInput describes a buyer refund request. A nil Amount asks for the
// full order total.
type RefundInput struct {
	Reason string
	Amount *decimal.Decimal
}

// ResolveInput describes an admin resolution. An empty Liability keeps the
// case's current liability; Amount is required for refund_partial.
type ResolveInput struct {
	Liability string
	Outcome   string
	Amount    *decimal.Decimal
	Note      string
}

// ResolveResult is a resolved case and the adjustment it produced, if any.
type ResolveResult struct {
	Case       dispute.Case
	Adjustment *finance.Adjustment
}

// DisputeView is a case with its audit trail.
type DisputeView struct {
	Case   dispute.Case
	Events []dispute.Event
}

func refundNotAllowed(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeRefundNotAllowed, reason, map[string]string{"Reason": reason})
}

// RequestRefund opens a refund dispute for a paid order of the calling buyer.
func (s *Service) RequestRefund(ctx context.Context, actor order.Actor, orderID string, in RefundInput) (_ dispute.Case, err error) {
	ctx, span := s.startSpan(ctx, "RequestRefund", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	var opened dispute.Case
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		o, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !visibleTo(o, actor) {
			return order.ErrNotFound
		}
		if actor.Role != order.RoleBuyer || actor.ID != o.BuyerID {
			return permissionDenied("requesting a refund")
		}
		if !o.Status.ReachedPayment() {
			return refundNotAllowed("order has not been paid")
		}
		cases, err := tx.ListOrderDisputes(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, c := range cases {
			if c.Status != dispute.StatusResolved {
				return refundNotAllowed("order already has an open dispute")
			}
		}
		balance := dispute.RefundableBalance(o.GrossAmount, cases)
		if !balance.IsPositive() {
			return dispute.ErrFullyRefunded
		}
		amount, err := requestedAmount(in.Amount, balance)
		if err != nil {
			return err
		}

		disputeID, err := s.nextID()
		if err != nil {
			return err
		}
		now := s.clock()
		c := dispute.Case{
			ID:           disputeID,
			OrderID:      o.ID,
			Source:       dispute.SourceRefundRequest,
			Status:       dispute.StatusOpen,
			Liability:    dispute.DefaultLiability(dispute.SourceRefundRequest),
			Reason:       strings.TrimSpace(in.Reason),
			RefundAmount: amount,
			OpenedBy:     actor.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.openCase(ctx, tx, c, actor.ID, string(actor.Role)); err != nil {
			return err
		}
		opened = c
		return nil
	})
	if err != nil {
		return dispute.Case{}, err
	}
	return opened, nil
}

// requestedAmount defaults to the whole refundable balance and rejects
// amounts above it.
func requestedAmount(amount *decimal.Decimal, balance decimal.Decimal) (decimal.Decimal, error) {
	if amount == nil {
		return balance, nil
	}
	if err := finance.ValidateAmount(*amount); err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(balance) {
		return decimal.Zero, dispute.ErrRefundExceedsBalance
	}
	return *amount, nil
}

// openChargeback opens a platform-liable dispute for a provider chargeback,
// once per provider case reference.
func (s *Service) openChargeback(ctx context.Context, event payment.Event) (CallbackResult, error) {
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

		existing, err := tx.GetDisputeByProviderCaseRef(ctx, event.Data.CaseRef)
		switch {
		case err == nil:
			result.DisputeID = existing.ID
			result.Duplicate = true
			return nil
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		if !fresh {
			result.Duplicate = true
			return nil
		}

		cases, err := tx.ListOrderDisputes(ctx, o.ID)
		if err != nil {
			return err
		}
		// The provider already pulled the money, so the claim is recorded
		// even when it exceeds what is left; it is capped to the balance.
		balance := dispute.RefundableBalance(o.GrossAmount, cases)
		amount := balance
		if event.Data.Amount != nil {
			if err := finance.ValidateAmount(*event.Data.Amount); err != nil {
				return err
			}
			amount = decimal.Min(*event.Data.Amount, balance)
		}
		disputeID, err := s.nextID()
		if err != nil {
			return err
		}
		if err := s.supersedeRefundRequests(ctx, tx, cases, disputeID, now); err != nil {
			return err
		}
		c := dispute.Case{
			ID:              disputeID,
			OrderID:         o.ID,
			Source:          dispute.SourceChargeback,
			Status:          dispute.StatusOpen,
			Liability:       dispute.DefaultLiability(dispute.SourceChargeback),
			Reason:          event.Data.Reason,
			RefundAmount:    amount,
			ProviderCaseRef: event.Data.CaseRef,
			OpenedBy:        providerActorID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.openCase(ctx, tx, c, providerActorID, string(order.RoleSystem)); err != nil {
			return err
		}
		result.DisputeID = c.ID
		return nil
	})
	if err != nil {
		return CallbackResult{}, err
	}
	return result, nil
}

// supersedeRefundRequests closes every unresolved buyer refund request of the
// order as rejected so the chargeback is the only case that can move money.
func (s *Service) supersedeRefundRequests(ctx context.Context, tx storage.Tx, cases []dispute.Case, chargebackID string, at time.Time) error {
	provider := order.Actor{ID: providerActorID, Role: order.RoleSystem}
	note := "superseded by chargeback " + chargebackID
	for _, c := range cases {
		if c.Source != dispute.SourceRefundRequest || c.Status == dispute.StatusResolved {
			continue
		}
		if c.Status == dispute.StatusOpen {
			if err := s.advance(ctx, tx, &c, dispute.StatusUnderReview, provider, "", at); err != nil {
				return err
			}
		}
		c.Outcome = dispute.OutcomeRejected
		c.RefundAmount = decimal.Zero
		if err := s.advance(ctx, tx, &c, dispute.StatusResolved, provider, note, at); err != nil {
			return err
		}
		if err := s.enqueue(ctx, tx, outbox.EventDisputeResolved, c.ID, disputePayload(c, nil), at); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) openCase(ctx context.Context, tx storage.Tx, c dispute.Case, actorID, actorRole string) error {
	if err := tx.PutDispute(ctx, c); err != nil {
		return err
	}
	if err := s.appendEvent(ctx, tx, c, dispute.EventOpened, "", actorID, actorRole, c.Reason); err != nil {
		return err
	}
	return s.enqueue(ctx, tx, outbox.EventDisputeOpened, c.ID, disputePayload(c, nil), c.CreatedAt)
}

// ReviewDispute moves an open case to under_review.
func (s *Service) ReviewDispute(ctx context.Context, actor order.Actor, disputeID string, note string) (_ dispute.Case, err error) {
	ctx, span := s.startSpan(ctx, "ReviewDispute", attribute.String("dispute.id", disputeID))
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor, "reviewing a dispute"); err != nil {
		return dispute.Case{}, err
	}
	var reviewed dispute.Case
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		c, err := loadDispute(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if err := s.advance(ctx, tx, &c, dispute.StatusUnderReview, actor, strings.TrimSpace(note), s.clock()); err != nil {
			return err
		}
		reviewed = c
		return nil
	})
	if err != nil {
		return dispute.Case{}, err
	}
	return reviewed, nil
}

// ResolveDispute records the outcome of a case. An open case steps through
// under_review first. A granted refund on an order with a finance snapshot
// produces a refund adjustment split by liability.
func (s *Service) ResolveDispute(ctx context.Context, actor order.Actor, disputeID string, in ResolveInput) (_ ResolveResult, err error) {
	ctx, span := s.startSpan(ctx, "ResolveDispute",
		attribute.String("dispute.id", disputeID),
		attribute.String("dispute.outcome", in.Outcome),
	)
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor, "resolving a dispute"); err != nil {
		return ResolveResult{}, err
	}
	outcome, err := dispute.ParseOutcome(in.Outcome)
	if err != nil {
		return ResolveResult{}, err
	}
	var liability dispute.Liability
	if strings.TrimSpace(in.Liability) != "" {
		if liability, err = dispute.ParseLiability(in.Liability); err != nil {
			return ResolveResult{}, err
		}
	}
	note := strings.TrimSpace(in.Note)

	var result ResolveResult
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		c, err := loadDispute(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if c.Status == dispute.StatusResolved {
			return dispute.InvalidTransitionError(c.Status, dispute.StatusResolved)
		}
		o, err := loadOrder(ctx, tx, c.OrderID)
		if err != nil {
			return err
		}
		cases, err := tx.ListOrderDisputes(ctx, o.ID)
		if err != nil {
			return err
		}
		partial := decimal.Zero
		if in.Amount != nil {
			partial = *in.Amount
		}
		refund, err := dispute.RefundAmount(outcome, partial, dispute.RefundableBalance(o.GrossAmount, cases))
		if err != nil {
			return err
		}

		now := s.clock()
		if c.Status == dispute.StatusOpen {
			if err := s.advance(ctx, tx, &c, dispute.StatusUnderReview, actor, "", now); err != nil {
				return err
			}
		}
		if liability != "" {
			c.Liability = liability
		}
		c.Outcome = outcome
		c.RefundAmount = refund
		if err := s.advance(ctx, tx, &c, dispute.StatusResolved, actor, note, now); err != nil {
			return err
		}

		var adjustment *finance.Adjustment
		if refund.IsPositive() {
			adjustment, err = s.refundAdjustment(ctx, tx, c, note, now)
			if err != nil {
				return err
			}
		}
		if err := s.enqueue(ctx, tx, outbox.EventDisputeResolved, c.ID, disputePayload(c, adjustment), now); err != nil {
			return err
		}
		result = ResolveResult{Case: c, Adjustment: adjustment}
		return nil
	})
	if err != nil {
		return ResolveResult{}, err
	}
	return result, nil
}

// refundAdjustment returns nil when the order was never finalized, since
// there is no ledger entry to adjust.
func (s *Service) refundAdjustment(ctx context.Context, tx storage.Tx, c dispute.Case, note string, at time.Time) (*finance.Adjustment, error) {
	snapshot, err := tx.GetOrderFinance(ctx, c.OrderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	adjustmentID, err := s.nextID()
	if err != nil {
		return nil, err
	}
	sellerAmount, platformAmount := dispute.SplitRefund(c.Liability, c.RefundAmount)
	reason := note
	if reason == "" {
		reason = c.Reason
	}
	adjustment := finance.Adjustment{
		ID:             adjustmentID,
		OrderID:        c.OrderID,
		SellerID:       snapshot.SellerID,
		DisputeID:      c.ID,
		Kind:           finance.AdjustmentRefund,
		Liability:      string(c.Liability),
		SellerAmount:   sellerAmount,
		PlatformAmount: platformAmount,
		Reason:         reason,
		CreatedAt:      at,
	}
	if err := tx.PutFinanceAdjustment(ctx, adjustment); err != nil {
		return nil, err
	}
	return &adjustment, nil
}

// GetDispute returns a case and its audit trail to staff or the order's
// parties.
func (s *Service) GetDispute(ctx context.Context, actor order.Actor, disputeID string) (_ DisputeView, err error) {
	ctx, span := s.startSpan(ctx, "GetDispute", attribute.String("dispute.id", disputeID))
	defer func() { endSpan(span, err) }()

	c, err := loadDispute(ctx, s.store, disputeID)
	if err != nil {
		return DisputeView{}, err
	}
	if !isStaff(actor) {
		o, err := loadOrder(ctx, s.store, c.OrderID)
		if err != nil {
			return DisputeView{}, err
		}
		if !visibleTo(o, actor) {
			return DisputeView{}, dispute.ErrNotFound
		}
	}
	events, err := s.store.ListDisputeEvents(ctx, c.ID)
	if err != nil {
		return DisputeView{}, err
	}
	return DisputeView{Case: c, Events: events}, nil
}

func loadDispute(ctx context.Context, store storage.DisputeStore, disputeID string) (dispute.Case, error) {
	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return dispute.Case{}, invalidArgument("dispute id is required")
	}
	c, err := store.GetDispute(ctx, disputeID)
	if err != nil {
		return dispute.Case{}, mapNotFound(err, dispute.ErrNotFound)
	}
	return c, nil
}

// advance moves c to the next status with a compare-and-set and appends the
// matching audit event.
func (s *Service) advance(ctx context.Context, tx storage.DisputeStore, c *dispute.Case, to dispute.Status, actor order.Actor, note string, at time.Time) error {
	from := c.Status
	if !dispute.CanTransition(from, to) {
		return dispute.InvalidTransitionError(from, to)
	}
	c.Status = to
	c.UpdatedAt = at
	eventType := dispute.EventReviewStarted
	if to == dispute.StatusResolved {
		c.ResolvedAt = at
		eventType = dispute.EventResolved
	}
	if err := tx.UpdateDispute(ctx, *c, from); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return dispute.InvalidTransitionError(from, to)
		}
		return err
	}
	return s.appendEvent(ctx, tx, *c, eventType, from, actor.ID, string(actor.Role), note)
}

func (s *Service) appendEvent(ctx context.Context, tx storage.DisputeStore, c dispute.Case, eventType dispute.EventType, from dispute.Status, actorID, actorRole, note string) error {
	eventID, err := s.nextID()
	if err != nil {
		return err
	}
	return tx.AppendDisputeEvent(ctx, dispute.Event{
		ID:         eventID,
		DisputeID:  c.ID,
		ActorID:    actorID,
		ActorRole:  actorRole,
		Type:       eventType,
		FromStatus: from,
		ToStatus:   c.Status,
		Liability:  c.Liability,
		Note:       note,
		CreatedAt:  c.UpdatedAt,
	})
}

func disputePayload(c dispute.Case, adjustment *finance.Adjustment) outbox.DisputeChanged {
	payload := outbox.DisputeChanged{
		DisputeID:    c.ID,
		OrderID:      c.OrderID,
		Source:       string(c.Source),
		Status:       string(c.Status),
		Liability:    string(c.Liability),
		Outcome:      string(c.Outcome),
		RefundAmount: c.RefundAmount,
	}
	if adjustment != nil {
		sellerAmount := adjustment.SellerAmount
		platformAmount := adjustment.PlatformAmount
		payload.SellerAmount = &sellerAmount
		payload.PlatformAmount = &platformAmount
	}
	return payload
}
