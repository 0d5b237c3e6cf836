package service

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/dispute"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/payment"
	"github.com/shopspring/decimal"
)

func TestRequestRefundRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid := f.awaitingOrder(t, "70.00")
	_, err := f.svc.RequestRefund(ctx, buyer, unpaid.ID, RefundInput{Reason: "changed my mind"})
	wantCode(t, err, apperrors.CodeRefundNotAllowed)

	paid, _ := f.paidOrder(t, "70.00")
	_, err = f.svc.RequestRefund(ctx, seller, paid.ID, RefundInput{})
	wantCode(t, err, apperrors.CodePermissionDenied)

	tooMuch := dec("70.01")
	_, err = f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Amount: &tooMuch})
	wantCode(t, err, apperrors.CodeInvalidArgument)

	c, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: " item damaged "})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if c.Status != dispute.StatusOpen || c.Source != dispute.SourceRefundRequest || c.Liability != dispute.LiabilitySeller {
		t.Fatalf("case = %+v", c)
	}
	if c.Reason != "item damaged" || !c.RefundAmount.Equal(dec("70.00")) || c.OpenedBy != buyer.ID {
		t.Fatalf("case = %+v", c)
	}

	_, err = f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: "again"})
	wantCode(t, err, apperrors.CodeRefundNotAllowed)

	if counts := f.outboxTypes(t); counts["dispute.opened"] != 1 {
		t.Fatalf("outbox = %v, want one dispute.opened", counts)
	}
}

func TestResolveDisputeStepsThroughReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid, _ := f.paidOrder(t, "100.00")
	c, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: "late"})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}

	_, err = f.svc.ResolveDispute(ctx, seller, c.ID, ResolveInput{Outcome: "refund_full"})
	wantCode(t, err, apperrors.CodePermissionDenied)
	_, err = f.svc.ResolveDispute(ctx, admin, c.ID, ResolveInput{Outcome: "maybe"})
	wantCode(t, err, apperrors.CodeInvalidArgument)
	_, err = f.svc.ResolveDispute(ctx, admin, c.ID, ResolveInput{Outcome: "refund_partial"})
	wantCode(t, err, apperrors.CodeInvalidArgument)

	f.clock.Advance(time.Hour)
	partial := dec("40.00")
	result, err := f.svc.ResolveDispute(ctx, admin, c.ID, ResolveInput{Outcome: "refund_partial", Amount: &partial, Note: "partial goodwill"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Case.Status != dispute.StatusResolved || result.Case.Outcome != dispute.OutcomeRefundPartial {
		t.Fatalf("case = %+v", result.Case)
	}
	if result.Adjustment == nil {
		t.Fatal("expected adjustment")
	}
	if !result.Adjustment.SellerAmount.Equal(dec("-40.00")) || !result.Adjustment.PlatformAmount.IsZero() {
		t.Fatalf("adjustment = %+v", result.Adjustment)
	}
	if result.Adjustment.Reason != "partial goodwill" || result.Adjustment.SellerID != seller.ID {
		t.Fatalf("adjustment = %+v", result.Adjustment)
	}

	view, err := f.svc.GetDispute(ctx, buyer, c.ID)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	wantTrail := []dispute.EventType{dispute.EventOpened, dispute.EventReviewStarted, dispute.EventResolved}
	if len(view.Events) != len(wantTrail) {
		t.Fatalf("events = %d, want %d", len(view.Events), len(wantTrail))
	}
	for i, want := range wantTrail {
		if view.Events[i].Type != want {
			t.Fatalf("event %d = %q, want %q", i, view.Events[i].Type, want)
		}
	}
	if view.Events[2].FromStatus != dispute.StatusUnderReview || view.Events[2].ActorID != admin.ID {
		t.Fatalf("resolved event = %+v", view.Events[2])
	}

	_, err = f.svc.ResolveDispute(ctx, admin, c.ID, ResolveInput{Outcome: "rejected"})
	wantCode(t, err, apperrors.CodeDisputeInvalidTransition)
	_, err = f.svc.ReviewDispute(ctx, admin, c.ID, "")
	wantCode(t, err, apperrors.CodeDisputeInvalidTransition)

	// A closed dispute frees the order for a new refund request.
	if _, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: "still broken"}); err != nil {
		t.Fatalf("second refund request: %v", err)
	}
}

func TestReviewDisputeRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid, _ := f.paidOrder(t, "10.00")
	c, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	_, err = f.svc.ReviewDispute(ctx, buyer, c.ID, "")
	wantCode(t, err, apperrors.CodePermissionDenied)

	reviewed, err := f.svc.ReviewDispute(ctx, admin, c.ID, "looking")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != dispute.StatusUnderReview {
		t.Fatalf("status = %q, want under_review", reviewed.Status)
	}

	result, err := f.svc.ResolveDispute(ctx, admin, c.ID, ResolveInput{Outcome: "rejected"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Adjustment != nil || !result.Case.RefundAmount.IsZero() {
		t.Fatalf("rejected resolution = %+v", result)
	}

	_, err = f.svc.GetDispute(ctx, order.Actor{ID: "buyer-2", Role: order.RoleBuyer}, c.ID)
	wantCode(t, err, apperrors.CodeNotFound)
	_, err = f.svc.GetDispute(ctx, admin, "missing")
	wantCode(t, err, apperrors.CodeNotFound)
}

func TestChargebackOpensPlatformDisputeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid, _ := f.paidOrder(t, "100.01")

	payload, sig := f.callback(t, "evt-cb-1", payment.EventChargebackOpened, map[string]any{
		"order_id": paid.ID,
		"case_ref": "cb-900",
		"reason":   "fraudulent",
	})
	first, err := f.svc.ConfirmPaymentCallback(ctx, payload, sig)
	if err != nil {
		t.Fatalf("chargeback: %v", err)
	}
	if first.Duplicate || first.DisputeID == "" {
		t.Fatalf("first = %+v", first)
	}

	again, againSig := f.callback(t, "evt-cb-2", payment.EventChargebackOpened, map[string]any{
		"order_id": paid.ID,
		"case_ref": "cb-900",
	})
	second, err := f.svc.ConfirmPaymentCallback(ctx, again, againSig)
	if err != nil {
		t.Fatalf("repeat chargeback: %v", err)
	}
	if !second.Duplicate || second.DisputeID != first.DisputeID {
		t.Fatalf("second = %+v, want duplicate of %s", second, first.DisputeID)
	}

	view, err := f.svc.GetDispute(ctx, admin, first.DisputeID)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if view.Case.Source != dispute.SourceChargeback || view.Case.Liability != dispute.LiabilityPlatform {
		t.Fatalf("case = %+v", view.Case)
	}
	if view.Case.ProviderCaseRef != "cb-900" || view.Events[0].ActorID != providerActorID {
		t.Fatalf("case = %+v events = %+v", view.Case, view.Events)
	}

	result, err := f.svc.ResolveDispute(ctx, admin, first.DisputeID, ResolveInput{Outcome: "refund_full", Liability: "shared"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Case.Liability != dispute.LiabilityShared {
		t.Fatalf("liability = %q, want shared", result.Case.Liability)
	}
	// The seller absorbs the odd cent of a shared refund.
	if !result.Adjustment.SellerAmount.Equal(dec("-50.01")) || !result.Adjustment.PlatformAmount.Equal(dec("-50.00")) {
		t.Fatalf("adjustment = %+v", result.Adjustment)
	}
}

func TestRefundWithoutSnapshotRecordsNoAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.awaitingOrder(t, "30.00")

	// A chargeback can arrive for an order whose payment callback never did.
	payload, sig := f.callback(t, "evt-cb", payment.EventChargebackOpened, map[string]any{
		"order_id": o.ID,
		"case_ref": "cb-1",
	})
	opened, err := f.svc.ConfirmPaymentCallback(ctx, payload, sig)
	if err != nil {
		t.Fatalf("chargeback: %v", err)
	}
	result, err := f.svc.ResolveDispute(ctx, admin, opened.DisputeID, ResolveInput{Outcome: "refund_full"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Adjustment != nil {
		t.Fatalf("adjustment = %+v, want none", result.Adjustment)
	}
	if !result.Case.RefundAmount.Equal(dec("30.00")) {
		t.Fatalf("refund = %s, want 30.00", result.Case.RefundAmount)
	}
}

func TestReconciliationTotalsEqualItemSums(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	first, _ := f.paidOrder(t, "100.00")
	f.clock.Advance(time.Hour)
	second, _ := f.paidOrder(t, "33.33")
	c, err := f.svc.RequestRefund(ctx, buyer, first.ID, RefundInput{})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if _, err := f.svc.ResolveDispute(ctx, admin, c.ID, ResolveInput{Outcome: "refund_full", Liability: "platform"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Finalized exactly at the period end, so outside [from, to).
	f.clock.now = to
	f.paidOrder(t, "5.00")

	report, err := f.svc.ReconciliationReport(ctx, admin, from, to)
	if err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	if report.Totals.OrderCount != 2 || report.Totals.AdjustmentCount != 1 {
		t.Fatalf("totals = %+v", report.Totals)
	}
	sellerSum, platformSum, gross := decimal.Zero, decimal.Zero, decimal.Zero
	for _, item := range report.Items {
		sellerSum = sellerSum.Add(item.SellerAmount)
		platformSum = platformSum.Add(item.PlatformAmount)
		gross = gross.Add(item.GrossAmount)
	}
	if !report.Totals.SellerTotal.Equal(sellerSum) || !report.Totals.PlatformTotal.Equal(platformSum) {
		t.Fatalf("totals %+v do not match item sums seller=%s platform=%s", report.Totals, sellerSum, platformSum)
	}
	if !report.Totals.GrossAmount.Equal(dec("133.33")) || !gross.Equal(dec("133.33")) {
		t.Fatalf("gross = %s, want 133.33", report.Totals.GrossAmount)
	}
	// 10.00 + 3.33 commission less the 100.00 platform-liable refund.
	if !report.Totals.PlatformTotal.Equal(dec("-86.67")) {
		t.Fatalf("platform total = %s, want -86.67", report.Totals.PlatformTotal)
	}

	summary, err := f.svc.SellerFinanceSummary(ctx, seller, seller.ID, from, to)
	if err != nil {
		t.Fatalf("seller summary: %v", err)
	}
	if !summary.Totals.SellerTotal.Equal(dec("120.00")) || summary.SellerID != seller.ID {
		t.Fatalf("seller summary = %+v", summary.Totals)
	}
	for _, item := range summary.Items {
		if item.OrderID != first.ID && item.OrderID != second.ID {
			t.Fatalf("unexpected item %+v", item)
		}
		if item.Kind != finance.ItemOrderFinance && item.Kind != finance.ItemAdjustment {
			t.Fatalf("item kind = %q", item.Kind)
		}
	}

	_, err = f.svc.SellerFinanceSummary(ctx, order.Actor{ID: "seller-2", Role: order.RoleSeller}, seller.ID, from, to)
	wantCode(t, err, apperrors.CodePermissionDenied)
	_, err = f.svc.ReconciliationReport(ctx, seller, from, to)
	wantCode(t, err, apperrors.CodePermissionDenied)
	_, err = f.svc.ReconciliationReport(ctx, admin, to, from)
	wantCode(t, err, apperrors.CodeInvalidArgument)
}

func TestRefundsAreCappedByOrderGross(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid, _ := f.paidOrder(t, "100.00")

	thirty := dec("30.00")
	first, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Amount: &thirty})
	if err != nil {
		t.Fatalf("first refund request: %v", err)
	}
	if _, err := f.svc.ResolveDispute(ctx, admin, first.ID, ResolveInput{Outcome: "refund_partial", Amount: &thirty}); err != nil {
		t.Fatalf("resolve first: %v", err)
	}

	tooMuch := dec("70.01")
	_, err = f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Amount: &tooMuch})
	wantCode(t, err, apperrors.CodeInvalidArgument)

	second, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: "rest of it"})
	if err != nil {
		t.Fatalf("second refund request: %v", err)
	}
	if !second.RefundAmount.Equal(dec("70.00")) {
		t.Fatalf("second request amount = %s, want 70.00", second.RefundAmount)
	}
	_, err = f.svc.ResolveDispute(ctx, admin, second.ID, ResolveInput{Outcome: "refund_partial", Amount: &tooMuch})
	wantCode(t, err, apperrors.CodeInvalidArgument)
	result, err := f.svc.ResolveDispute(ctx, admin, second.ID, ResolveInput{Outcome: "refund_full"})
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if !result.Case.RefundAmount.Equal(dec("70.00")) || !result.Adjustment.SellerAmount.Equal(dec("-70.00")) {
		t.Fatalf("second resolution = %+v adjustment = %+v", result.Case, result.Adjustment)
	}

	_, err = f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: "once more"})
	wantCode(t, err, apperrors.CodeRefundNotAllowed)

	// A chargeback on a fully refunded order is recorded but cannot move money.
	payload, sig := f.callback(t, "evt-cb-late", payment.EventChargebackOpened, map[string]any{
		"order_id": paid.ID,
		"case_ref": "cb-late",
	})
	opened, err := f.svc.ConfirmPaymentCallback(ctx, payload, sig)
	if err != nil {
		t.Fatalf("chargeback: %v", err)
	}
	_, err = f.svc.ResolveDispute(ctx, admin, opened.DisputeID, ResolveInput{Outcome: "refund_full"})
	wantCode(t, err, apperrors.CodeRefundNotAllowed)
	rejected, err := f.svc.ResolveDispute(ctx, admin, opened.DisputeID, ResolveInput{Outcome: "rejected"})
	if err != nil {
		t.Fatalf("reject chargeback: %v", err)
	}
	if rejected.Adjustment != nil {
		t.Fatalf("adjustment = %+v, want none", rejected.Adjustment)
	}

	report, err := f.svc.ReconciliationReport(ctx, admin, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	refunded := decimal.Zero
	for _, item := range report.Items {
		if item.Kind == finance.ItemAdjustment {
			refunded = refunded.Add(item.SellerAmount).Add(item.PlatformAmount)
		}
	}
	if !refunded.Equal(dec("-100.00")) {
		t.Fatalf("refunded = %s, want -100.00", refunded)
	}
}

func TestChargebackSupersedesOpenRefundRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid, _ := f.paidOrder(t, "100.00")

	request, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: "never arrived"})
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}

	f.clock.Advance(time.Minute)
	payload, sig := f.callback(t, "evt-cb-1", payment.EventChargebackOpened, map[string]any{
		"order_id": paid.ID,
		"case_ref": "cb-1",
		"amount":   "60.00",
	})
	opened, err := f.svc.ConfirmPaymentCallback(ctx, payload, sig)
	if err != nil {
		t.Fatalf("chargeback: %v", err)
	}

	superseded, err := f.svc.GetDispute(ctx, admin, request.ID)
	if err != nil {
		t.Fatalf("get refund request: %v", err)
	}
	if superseded.Case.Status != dispute.StatusResolved || superseded.Case.Outcome != dispute.OutcomeRejected {
		t.Fatalf("refund request = %+v, want resolved as rejected", superseded.Case)
	}
	last := superseded.Events[len(superseded.Events)-1]
	if last.ActorID != providerActorID || last.Note != "superseded by chargeback "+opened.DisputeID {
		t.Fatalf("last event = %+v", last)
	}
	if _, err := f.svc.ResolveDispute(ctx, admin, request.ID, ResolveInput{Outcome: "refund_full"}); err == nil {
		t.Fatal("expected superseded refund request to stay closed")
	}

	_, err = f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{Reason: "again"})
	wantCode(t, err, apperrors.CodeRefundNotAllowed)

	result, err := f.svc.ResolveDispute(ctx, admin, opened.DisputeID, ResolveInput{Outcome: "refund_partial", Amount: ptr(dec("60.00"))})
	if err != nil {
		t.Fatalf("resolve chargeback: %v", err)
	}
	if !result.Adjustment.PlatformAmount.Equal(dec("-60.00")) || !result.Adjustment.SellerAmount.IsZero() {
		t.Fatalf("adjustment = %+v", result.Adjustment)
	}

	// Only the 40.00 left is still refundable.
	last40, err := f.svc.RequestRefund(ctx, buyer, paid.ID, RefundInput{})
	if err != nil {
		t.Fatalf("refund after chargeback: %v", err)
	}
	if !last40.RefundAmount.Equal(dec("40.00")) {
		t.Fatalf("remaining refund = %s, want 40.00", last40.RefundAmount)
	}
	if counts := f.outboxTypes(t); counts["dispute.resolved"] != 2 || counts["dispute.opened"] != 3 {
		t.Fatalf("outbox = %v, want 3 dispute.opened and 2 dispute.resolved", counts)
	}
}

func ptr[T any](v T) *T {
	return &v
}
