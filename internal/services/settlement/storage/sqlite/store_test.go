package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/dispute"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/idempotency"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settlement.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func putTestOrder(t *testing.T, store *Store, id string, status order.Status) order.Order {
	t.Helper()
	o, err := order.New(id, "buyer-1", "seller-1", dec("100.00"), "USD", testNow)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	o.Status = status
	if err := store.PutOrder(context.Background(), o); err != nil {
		t.Fatalf("put order: %v", err)
	}
	return o
}

func TestOrderRoundTripAndCompareAndSet(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	putTestOrder(t, store, "order-1", order.StatusAwaitingPayment)

	got, err := store.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !got.GrossAmount.Equal(dec("100")) || got.Status != order.StatusAwaitingPayment || !got.CreatedAt.Equal(testNow) {
		t.Fatalf("order = %+v", got)
	}

	if err := store.UpdateOrderStatus(ctx, "order-1", order.StatusAwaitingPayment, order.StatusPaid, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("update status: %v", err)
	}
	err = store.UpdateOrderStatus(ctx, "order-1", order.StatusAwaitingPayment, order.StatusCancelled, testNow.Add(time.Minute))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}
	err = store.UpdateOrderStatus(ctx, "missing", order.StatusAwaitingPayment, order.StatusPaid, testNow)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing update err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetOrder(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx storage.Tx) error {
		o, _ := order.New("order-tx", "buyer-1", "seller-1", dec("10.00"), "USD", testNow)
		if err := tx.PutOrder(ctx, o); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("in tx err = %v, want boom", err)
	}
	if _, err := store.GetOrder(ctx, "order-tx"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get rolled back order err = %v, want ErrNotFound", err)
	}
}

func TestPaymentAttemptOneSuccessPerOrder(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	putTestOrder(t, store, "order-1", order.StatusAwaitingPayment)

	for _, ref := range []string{"cs_a", "cs_b"} {
		if err := store.PutPaymentAttempt(ctx, storage.PaymentAttempt{
			ID: "pa_" + ref, OrderID: "order-1", ProviderSessionRef: ref, CreatedAt: testNow, UpdatedAt: testNow,
		}); err != nil {
			t.Fatalf("put attempt %s: %v", ref, err)
		}
	}
	if err := store.MarkPaymentAttempt(ctx, "pa_cs_a", storage.PaymentStatusSucceeded, "sum", "evt_1", testNow); err != nil {
		t.Fatalf("mark a: %v", err)
	}
	if err := store.MarkPaymentAttempt(ctx, "pa_cs_b", storage.PaymentStatusSucceeded, "sum", "evt_2", testNow); err == nil {
		t.Fatal("expected second succeeded attempt to violate the unique index")
	}
	if err := store.MarkPaymentAttempt(ctx, "pa_cs_a", storage.PaymentStatusFailed, "", "evt_3", testNow); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("re-mark err = %v, want ErrConflict", err)
	}

	attempt, err := store.GetPaymentAttemptBySession(ctx, "cs_a")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if attempt.Status != storage.PaymentStatusSucceeded || attempt.ProviderEventID != "evt_1" {
		t.Fatalf("attempt = %+v", attempt)
	}
	attempts, err := store.ListPaymentAttempts(ctx, "order-1")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
}

func TestPutProviderEventOnce(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	event := storage.ProviderEvent{ProviderEventID: "evt_1", EventType: "payment.succeeded", OrderID: "order-1", ReceivedAt: testNow}

	inserted, err := store.PutProviderEvent(ctx, event)
	if err != nil || !inserted {
		t.Fatalf("first put = %v, %v; want true", inserted, err)
	}
	inserted, err = store.PutProviderEvent(ctx, event)
	if err != nil || inserted {
		t.Fatalf("second put = %v, %v; want false", inserted, err)
	}
}

func TestPutOrderFinanceKeepsFirstSnapshot(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	putTestOrder(t, store, "order-1", order.StatusPaid)

	first := finance.NewOrderFinance("order-1", "seller-1", dec("100.00"), dec("0.10"), testNow)
	second := finance.NewOrderFinance("order-1", "seller-1", dec("100.00"), dec("0.25"), testNow.Add(time.Hour))

	inserted, err := store.PutOrderFinance(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("first finalize = %v, %v; want true", inserted, err)
	}
	inserted, err = store.PutOrderFinance(ctx, second)
	if err != nil || inserted {
		t.Fatalf("second finalize = %v, %v; want false", inserted, err)
	}

	got, err := store.GetOrderFinance(ctx, "order-1")
	if err != nil {
		t.Fatalf("get finance: %v", err)
	}
	if !got.CommissionRateSnapshot.Equal(dec("0.10")) || !got.CommissionAmount.Equal(dec("10")) || !got.SellerNetAmount.Equal(dec("90")) {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestConcurrentFinalizeInsertsOnce(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	putTestOrder(t, store, "order-1", order.StatusPaid)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, func(tx storage.Tx) error {
				ok, err := tx.PutOrderFinance(ctx, finance.NewOrderFinance("order-1", "seller-1", dec("100.00"), dec("0.10"), testNow))
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				t.Errorf("finalize: %v", err)
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1", inserted)
	}
}

func TestActiveCommissionSettingBoundary(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	t1 := testNow

	if _, err := store.ActiveCommissionSetting(ctx, t1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("empty err = %v, want ErrNotFound", err)
	}
	settings := []finance.CommissionSetting{
		{ID: "cs-1", Rate: dec("0.10"), EffectiveFrom: t1.Add(-time.Hour), IsActive: true, CreatedBy: "admin", CreatedAt: t1.Add(-time.Hour)},
		{ID: "cs-2", Rate: dec("0.12"), EffectiveFrom: t1, IsActive: true, CreatedBy: "admin", CreatedAt: t1.Add(-time.Minute)},
		{ID: "cs-3", Rate: dec("0.50"), EffectiveFrom: t1.Add(-time.Minute), IsActive: false, CreatedBy: "admin", CreatedAt: t1},
	}
	for _, setting := range settings {
		if err := store.PutCommissionSetting(ctx, setting); err != nil {
			t.Fatalf("put setting %s: %v", setting.ID, err)
		}
	}

	tests := []struct {
		at   time.Time
		want string
	}{
		{at: t1.Add(-time.Millisecond), want: "0.10"},
		{at: t1, want: "0.12"},
		{at: t1.Add(time.Hour), want: "0.12"},
	}
	for _, tt := range tests {
		got, err := store.ActiveCommissionSetting(ctx, tt.at)
		if err != nil {
			t.Fatalf("active at %v: %v", tt.at, err)
		}
		if !got.Rate.Equal(dec(tt.want)) {
			t.Fatalf("rate at %v = %s, want %s", tt.at, got.Rate, tt.want)
		}
	}
}

func TestFinanceListingsFilterPeriodAndSeller(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	for _, id := range []string{"o1", "o2", "o3"} {
		putTestOrder(t, store, id, order.StatusPaid)
	}
	snapshots := []finance.OrderFinance{
		finance.NewOrderFinance("o1", "seller-1", dec("100.00"), dec("0.10"), testNow),
		finance.NewOrderFinance("o2", "seller-1", dec("50.00"), dec("0.10"), testNow.Add(24*time.Hour)),
		finance.NewOrderFinance("o3", "seller-2", dec("20.00"), dec("0.10"), testNow),
	}
	for _, snapshot := range snapshots {
		if _, err := store.PutOrderFinance(ctx, snapshot); err != nil {
			t.Fatalf("put finance: %v", err)
		}
	}
	if err := store.PutFinanceAdjustment(ctx, finance.Adjustment{
		ID: "adj-1", OrderID: "o1", SellerID: "seller-1", DisputeID: "d1", Kind: finance.AdjustmentRefund,
		Liability: "seller", SellerAmount: dec("-25.00"), PlatformAmount: decimal.Zero, CreatedAt: testNow.Add(time.Hour),
	}); err != nil {
		t.Fatalf("put adjustment: %v", err)
	}

	filter := storage.FinanceFilter{SellerID: "seller-1", From: testNow, To: testNow.Add(24 * time.Hour)}
	listed, err := store.ListOrderFinance(ctx, filter)
	if err != nil {
		t.Fatalf("list finance: %v", err)
	}
	if len(listed) != 1 || listed[0].OrderID != "o1" {
		t.Fatalf("listed = %+v, want o1 only", listed)
	}
	adjustments, err := store.ListFinanceAdjustments(ctx, filter)
	if err != nil {
		t.Fatalf("list adjustments: %v", err)
	}
	if len(adjustments) != 1 || !adjustments[0].SellerAmount.Equal(dec("-25")) {
		t.Fatalf("adjustments = %+v", adjustments)
	}

	all, err := store.ListOrderFinance(ctx, storage.FinanceFilter{})
	if err != nil {
		t.Fatalf("list all finance: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
}

func TestFinanceAdjustmentRequiresSnapshot(t *testing.T) {
	store := openTempStore(t)
	err := store.PutFinanceAdjustment(context.Background(), finance.Adjustment{
		ID: "adj-1", OrderID: "no-snapshot", SellerID: "seller-1", Kind: finance.AdjustmentRefund,
		SellerAmount: dec("-1.00"), PlatformAmount: decimal.Zero, CreatedAt: testNow,
	})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestDisputeLifecycle(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	putTestOrder(t, store, "order-1", order.StatusPaid)

	c := dispute.Case{
		ID: "d1", OrderID: "order-1", Source: dispute.SourceChargeback, Status: dispute.StatusOpen,
		Liability: dispute.LiabilityPlatform, ProviderCaseRef: "cb_1", RefundAmount: decimal.Zero,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	if err := store.PutDispute(ctx, c); err != nil {
		t.Fatalf("put dispute: %v", err)
	}
	duplicate := c
	duplicate.ID = "d2"
	if err := store.PutDispute(ctx, duplicate); err == nil {
		t.Fatal("expected provider case ref to be unique")
	}

	byRef, err := store.GetDisputeByProviderCaseRef(ctx, "cb_1")
	if err != nil || byRef.ID != "d1" {
		t.Fatalf("by ref = %+v, %v", byRef, err)
	}

	c.Status = dispute.StatusUnderReview
	c.UpdatedAt = testNow.Add(time.Minute)
	if err := store.UpdateDispute(ctx, c, dispute.StatusOpen); err != nil {
		t.Fatalf("review: %v", err)
	}
	if err := store.UpdateDispute(ctx, c, dispute.StatusOpen); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale review err = %v, want ErrConflict", err)
	}
	c.Status = dispute.StatusResolved
	c.Outcome = dispute.OutcomeRefundPartial
	c.RefundAmount = dec("12.50")
	c.ResolvedAt = testNow.Add(time.Hour)
	if err := store.UpdateDispute(ctx, c, dispute.StatusUnderReview); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := store.GetDispute(ctx, "d1")
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if got.Status != dispute.StatusResolved || !got.RefundAmount.Equal(dec("12.5")) || !got.ResolvedAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("dispute = %+v", got)
	}

	second := dispute.Case{
		ID: "d3", OrderID: "order-1", Source: dispute.SourceRefundRequest, Status: dispute.StatusOpen,
		Liability: dispute.LiabilitySeller, RefundAmount: dec("5.00"),
		CreatedAt: testNow.Add(2 * time.Hour), UpdatedAt: testNow.Add(2 * time.Hour),
	}
	if err := store.PutDispute(ctx, second); err != nil {
		t.Fatalf("put second dispute: %v", err)
	}
	all, err := store.ListOrderDisputes(ctx, "order-1")
	if err != nil {
		t.Fatalf("list order disputes: %v", err)
	}
	if len(all) != 2 || all[0].ID != "d1" || all[1].ID != "d3" {
		t.Fatalf("order disputes = %+v, want d1 then d3", all)
	}
	if !all[0].RefundAmount.Equal(dec("12.5")) || all[1].Status != dispute.StatusOpen {
		t.Fatalf("order disputes = %+v", all)
	}

	for i, eventType := range []dispute.EventType{dispute.EventOpened, dispute.EventReviewStarted, dispute.EventResolved} {
		if err := store.AppendDisputeEvent(ctx, dispute.Event{
			ID: string(eventType), DisputeID: "d1", Type: eventType, ToStatus: dispute.StatusOpen, CreatedAt: testNow.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append %s: %v", eventType, err)
		}
	}
	events, err := store.ListDisputeEvents(ctx, "d1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 || events[0].Type != dispute.EventOpened || events[2].Type != dispute.EventResolved {
		t.Fatalf("events = %+v", events)
	}
}

func TestIdempotencyLedgerOverSQLite(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := testNow
	ledger := idempotency.NewLedger(store, time.Hour, func() time.Time { return now })
	scope := idempotency.Scope("start_payment", "buyer-1")

	decision, err := ledger.Begin(ctx, scope, "key-1", "fp-1")
	if err != nil || decision.Outcome != idempotency.OutcomeFresh {
		t.Fatalf("first begin = %+v, %v", decision, err)
	}
	if _, err := ledger.Begin(ctx, scope, "key-1", "fp-1"); !errors.Is(err, idempotency.ErrInProgress) {
		t.Fatalf("in-flight err = %v, want ErrInProgress", err)
	}
	if err := ledger.Commit(ctx, scope, "key-1", "fp-1", idempotency.Response{Status: 201, Body: []byte(`{"ok":true}`)}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	decision, err = ledger.Begin(ctx, scope, "key-1", "fp-1")
	if err != nil || decision.Outcome != idempotency.OutcomeReplay {
		t.Fatalf("replay = %+v, %v", decision, err)
	}
	if decision.Response.Status != 201 || string(decision.Response.Body) != `{"ok":true}` {
		t.Fatalf("replayed = %+v", decision.Response)
	}
	if _, err := ledger.Begin(ctx, scope, "key-1", "fp-2"); !errors.Is(err, idempotency.ErrKeyReused) {
		t.Fatalf("reuse err = %v, want ErrKeyReused", err)
	}

	now = now.Add(2 * time.Hour)
	decision, err = ledger.Begin(ctx, scope, "key-1", "fp-2")
	if err != nil || decision.Outcome != idempotency.OutcomeFresh {
		t.Fatalf("after expiry = %+v, %v", decision, err)
	}
	if err := ledger.Release(ctx, scope, "key-1", "fp-2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.GetIdempotencyRecord(ctx, scope, idempotency.HashKey("key-1")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("released record err = %v, want ErrNotFound", err)
	}

	if _, err := ledger.Begin(ctx, scope, "key-2", "fp-1"); err != nil {
		t.Fatalf("begin key-2: %v", err)
	}
	now = now.Add(2 * time.Hour)
	purged, err := ledger.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
}

func TestRiskEventsRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	event := abuse.RiskEvent{
		ID: "risk-1", Flow: abuse.FlowPaymentStart, IP: "198.51.100.7", UserID: "buyer-1",
		Reasons: []abuse.Reason{abuse.ReasonIPLimitExceeded}, CreatedAt: testNow,
	}
	if err := store.PutRiskEvent(ctx, event); err != nil {
		t.Fatalf("put risk event: %v", err)
	}
	events, err := store.ListRiskEvents(ctx, testNow.Add(-time.Minute))
	if err != nil {
		t.Fatalf("list risk events: %v", err)
	}
	if len(events) != 1 || events[0].Flow != abuse.FlowPaymentStart || len(events[0].Reasons) != 1 || events[0].Reasons[0] != abuse.ReasonIPLimitExceeded {
		t.Fatalf("events = %+v", events)
	}
}
