package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/outbox"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// CommissionRateInput appends a commission rate version. A zero
// EffectiveFrom means now.
type CommissionRateInput struct {
	Rate          decimal.Decimal
	EffectiveFrom time.Time
}

// SetCommissionRate appends a commission setting. Existing settings are
// never edited, so historic snapshots stay explainable.
func (s *Service) SetCommissionRate(ctx context.Context, actor order.Actor, in CommissionRateInput) (_ finance.CommissionSetting, err error) {
	ctx, span := s.startSpan(ctx, "SetCommissionRate", attribute.String("rate", in.Rate.String()))
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor, "setting the commission rate"); err != nil {
		return finance.CommissionSetting{}, err
	}
	if err := finance.ValidateRate(in.Rate); err != nil {
		return finance.CommissionSetting{}, err
	}
	settingID, err := s.nextID()
	if err != nil {
		return finance.CommissionSetting{}, err
	}
	now := s.clock()
	effectiveFrom := in.EffectiveFrom.UTC()
	if in.EffectiveFrom.IsZero() {
		effectiveFrom = now
	}
	setting := finance.CommissionSetting{
		ID:            settingID,
		Rate:          in.Rate,
		EffectiveFrom: effectiveFrom,
		IsActive:      true,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
	}
	if err := s.store.PutCommissionSetting(ctx, setting); err != nil {
		return finance.CommissionSetting{}, err
	}
	return setting, nil
}

// GetActiveCommissionRate returns the rate in force at at, or the
// configured default when no setting applies.
func (s *Service) GetActiveCommissionRate(ctx context.Context, at time.Time) (_ decimal.Decimal, err error) {
	ctx, span := s.startSpan(ctx, "GetActiveCommissionRate")
	defer func() { endSpan(span, err) }()

	if at.IsZero() {
		at = s.clock()
	}
	return s.activeRate(ctx, s.store, at.UTC())
}

func (s *Service) activeRate(ctx context.Context, store storage.FinanceStore, at time.Time) (decimal.Decimal, error) {
	setting, err := store.ActiveCommissionSetting(ctx, at)
	if errors.Is(err, storage.ErrNotFound) {
		return s.defaultRate, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return setting.Rate, nil
}

// FinalizeOrderFinance snapshots the commission of a paid order. It reports
// whether this call created the snapshot. Once a snapshot exists every call
// returns it unchanged, whatever seller or gross it was given.
func (s *Service) FinalizeOrderFinance(ctx context.Context, orderID, sellerID string, gross decimal.Decimal) (_ finance.OrderFinance, created bool, err error) {
	ctx, span := s.startSpan(ctx, "FinalizeOrderFinance", attribute.String("order.id", orderID))
	defer func() { endSpan(span, err) }()

	var snapshot finance.OrderFinance
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		o, err := loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		// An existing snapshot wins over whatever the caller passed.
		existing, err := tx.GetOrderFinance(ctx, o.ID)
		if err == nil {
			snapshot = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if o.SellerID != strings.TrimSpace(sellerID) {
			return invalidArgument("seller does not match the order")
		}
		if !o.GrossAmount.Equal(gross) {
			return invalidArgument("gross amount does not match the order")
		}
		if !o.Status.ReachedPayment() {
			return order.InvalidTransitionError(o.Status, order.StatusPaid)
		}
		snapshot, created, err = s.finalizeInTx(ctx, tx, o, s.clock())
		return err
	})
	if err != nil {
		return finance.OrderFinance{}, false, err
	}
	return snapshot, created, nil
}

// finalizeInTx inserts the snapshot of o at most once and emits
// order.finalized only for the insert that won.
func (s *Service) finalizeInTx(ctx context.Context, tx storage.Tx, o order.Order, at time.Time) (finance.OrderFinance, bool, error) {
	rate, err := s.activeRate(ctx, tx, at)
	if err != nil {
		return finance.OrderFinance{}, false, err
	}
	snapshot := finance.NewOrderFinance(o.ID, o.SellerID, o.GrossAmount, rate, at)
	inserted, err := tx.PutOrderFinance(ctx, snapshot)
	if err != nil {
		return finance.OrderFinance{}, false, err
	}
	if !inserted {
		existing, err := tx.GetOrderFinance(ctx, o.ID)
		if err != nil {
			return finance.OrderFinance{}, false, err
		}
		return existing, false, nil
	}
	if err := s.enqueue(ctx, tx, outbox.EventOrderFinalized, o.ID, outbox.OrderFinalized{
		OrderID:          snapshot.OrderID,
		SellerID:         snapshot.SellerID,
		GrossAmount:      snapshot.GrossAmount,
		CommissionRate:   snapshot.CommissionRateSnapshot,
		CommissionAmount: snapshot.CommissionAmount,
		SellerNetAmount:  snapshot.SellerNetAmount,
	}, at); err != nil {
		return finance.OrderFinance{}, false, err
	}
	return snapshot, true, nil
}

// SellerFinanceSummary returns the itemized finance view of one seller over
// [from, to).
func (s *Service) SellerFinanceSummary(ctx context.Context, actor order.Actor, sellerID string, from, to time.Time) (_ finance.Report, err error) {
	ctx, span := s.startSpan(ctx, "SellerFinanceSummary", attribute.String("seller.id", sellerID))
	defer func() { endSpan(span, err) }()

	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return finance.Report{}, invalidArgument("seller id is required")
	}
	if actor.Role != order.RoleAdmin && (actor.Role != order.RoleSeller || actor.ID != sellerID) {
		return finance.Report{}, permissionDenied("viewing this seller's finance")
	}
	return s.report(ctx, storage.FinanceFilter{SellerID: sellerID, From: from, To: to})
}

// ReconciliationReport returns the platform-wide itemized finance view over
// [from, to).
func (s *Service) ReconciliationReport(ctx context.Context, actor order.Actor, from, to time.Time) (_ finance.Report, err error) {
	ctx, span := s.startSpan(ctx, "ReconciliationReport")
	defer func() { endSpan(span, err) }()

	if err := requireAdmin(actor, "viewing reconciliation"); err != nil {
		return finance.Report{}, err
	}
	return s.report(ctx, storage.FinanceFilter{From: from, To: to})
}

func (s *Service) report(ctx context.Context, filter storage.FinanceFilter) (finance.Report, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return finance.Report{}, invalidArgument("period start must be before its end")
	}
	snapshots, err := s.store.ListOrderFinance(ctx, filter)
	if err != nil {
		return finance.Report{}, err
	}
	adjustments, err := s.store.ListFinanceAdjustments(ctx, filter)
	if err != nil {
		return finance.Report{}, err
	}
	items := make([]finance.ReportItem, 0, len(snapshots)+len(adjustments))
	for _, snapshot := range snapshots {
		items = append(items, finance.ItemFromOrderFinance(snapshot))
	}
	for _, adjustment := range adjustments {
		items = append(items, finance.ItemFromAdjustment(adjustment))
	}
	return finance.BuildReport(filter.SellerID, filter.From, filter.To, items), nil
}

func (s *Service) enqueue(ctx context.Context, tx storage.OutboxWriter, eventType, subjectID string, data any, at time.Time) error {
	eventID, err := s.nextID()
	if err != nil {
		return err
	}
	event, err := outbox.New(eventID, eventType, subjectID, data, at)
	if err != nil {
		return err
	}
	return tx.EnqueueOutboxEvent(ctx, event)
}
