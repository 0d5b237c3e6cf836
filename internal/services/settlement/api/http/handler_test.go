package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/settlement/internal/platform/authn"
	"github.com/louisbranch/settlement/internal/platform/httpx"
	"github.com/louisbranch/settlement/internal/platform/requestctx"
	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"github.com/louisbranch/settlement/internal/services/settlement/api/views"
	"github.com/louisbranch/settlement/internal/services/settlement/idempotency"
	"github.com/louisbranch/settlement/internal/services/settlement/payment"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
	"github.com/louisbranch/settlement/internal/services/settlement/storage/sqlite"
)

var (
	jwtSecret = []byte("jwt-test-secret")
	buyer     = requestctx.Actor{ID: "buyer-1", Role: "buyer"}
	seller    = requestctx.Actor{ID: "seller-1", Role: "seller"}
	admin     = requestctx.Actor{ID: "admin-1", Role: "admin"}
)

type apiFixture struct {
	handler  http.Handler
	store    *sqlite.Store
	verifier *payment.Verifier
	now      time.Time
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "settlement.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	verifier, err := payment.NewVerifier([]byte("whsec-test"))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, err := service.New(service.Config{}, service.Deps{
		Store:    store,
		Verifier: verifier,
		Checkout: payment.LocalCheckout{BaseURL: "https://pay.example.test"},
		Now:      clock,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	callers, err := authn.NewVerifier(authn.Config{Secret: jwtSecret, Now: clock})
	if err != nil {
		t.Fatalf("new caller verifier: %v", err)
	}
	handler, err := New(Options{
		Service: svc,
		Ledger:  idempotency.NewLedger(store, time.Hour, clock),
		Gate:    abuse.NewGate(abuse.DefaultPolicy(), abuse.NewMemoryCounterStore(), store, clock),
		Authn:   callers.Middleware(),
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &apiFixture{handler: handler, store: store, verifier: verifier, now: now}
}

func (f *apiFixture) do(t *testing.T, method, path string, actor *requestctx.Actor, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "203.0.113.7:4100"
	if actor != nil {
		token, err := authn.Sign(jwtSecret, *actor, "", time.Hour, f.now)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) httpx.ErrorBody {
	t.Helper()
	wantStatus(t, rec, status)
	body := decodeBody[httpx.ErrorBody](t, rec)
	if body.Error.Code != code {
		t.Fatalf("error code = %s, want %s", body.Error.Code, code)
	}
	return body
}

// awaitingOrder places an order and walks it to awaiting_payment.
func (f *apiFixture) awaitingOrder(t *testing.T, gross string) views.Order {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/orders", &buyer, `{"seller_id":"seller-1","gross_amount":"`+gross+`"}`, nil)
	wantStatus(t, rec, http.StatusCreated)
	o := decodeBody[views.Order](t, rec)
	for _, status := range []string{"seller_approved", "awaiting_payment"} {
		rec := f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/status", &seller, `{"status":"`+status+`"}`, nil)
		wantStatus(t, rec, http.StatusOK)
		o = decodeBody[views.Order](t, rec)
	}
	return o
}

func (f *apiFixture) webhook(t *testing.T, payload string, signature string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/v1/payments/webhook", nil, payload, map[string]string{payment.SignatureHeader: signature})
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	o := f.awaitingOrder(t, "250.00")
	if o.Status != "awaiting_payment" || o.GrossAmount != "250.00" || o.Currency != "TRY" {
		t.Fatalf("order = %+v, want awaiting_payment 250.00 TRY", o)
	}

	rec := f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/payments", &buyer, "", nil)
	wantStatus(t, rec, http.StatusCreated)
	session := decodeBody[views.PaymentSession](t, rec)
	if session.SessionRef == "" || session.Amount != "250.00" {
		t.Fatalf("session = %+v, want a reference for 250.00", session)
	}

	payload := `{"id":"evt-1","type":"payment.succeeded","data":{"order_id":"` + o.ID + `","session_ref":"` + session.SessionRef + `","amount":"250.00"}}`
	rec = f.webhook(t, payload, f.verifier.Sign([]byte(payload)))
	wantStatus(t, rec, http.StatusOK)
	ack := decodeBody[views.Callback](t, rec)
	if ack.OrderStatus != "paid" || ack.Duplicate {
		t.Fatalf("ack = %+v, want paid and not duplicate", ack)
	}

	rec = f.webhook(t, payload, f.verifier.Sign([]byte(payload)))
	wantStatus(t, rec, http.StatusOK)
	if ack := decodeBody[views.Callback](t, rec); !ack.Duplicate {
		t.Fatalf("replayed ack duplicate = false, want true")
	}

	rec = f.do(t, http.MethodGet, "/v1/orders/"+o.ID+"/payment-status", &buyer, "", nil)
	wantStatus(t, rec, http.StatusOK)
	status := decodeBody[views.PaymentStatus](t, rec)
	if !status.Paid || status.OrderStatus != "paid" || len(status.Attempts) != 1 {
		t.Fatalf("payment status = %+v, want one paid attempt", status)
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	f := newAPIFixture(t)
	o := f.awaitingOrder(t, "10.00")
	payload := `{"id":"evt-forged","type":"payment.succeeded","data":{"order_id":"` + o.ID + `"}}`

	wantError(t, f.webhook(t, payload, "sha256=00"), http.StatusUnauthorized, "PAYMENT_SIGNATURE_INVALID")

	rec := f.do(t, http.MethodGet, "/v1/orders/"+o.ID, &buyer, "", nil)
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody[views.Order](t, rec); got.Status != "awaiting_payment" {
		t.Fatalf("status = %s, want awaiting_payment", got.Status)
	}
}

func TestRoutesRequireCallerToken(t *testing.T) {
	f := newAPIFixture(t)
	wantError(t, f.do(t, http.MethodGet, "/v1/orders/missing", nil, "", nil), http.StatusUnauthorized, "UNAUTHENTICATED")

	rec := f.do(t, http.MethodGet, "/healthz", nil, "", nil)
	wantStatus(t, rec, http.StatusOK)
}

func TestIdempotencyKeyReplaysAndRejectsReuse(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{IdempotencyKeyHeader: "order-key-1"}
	body := `{"seller_id":"seller-1","gross_amount":"40.00"}`

	first := f.do(t, http.MethodPost, "/v1/orders", &buyer, body, headers)
	wantStatus(t, first, http.StatusCreated)
	second := f.do(t, http.MethodPost, "/v1/orders", &buyer, body, headers)
	wantStatus(t, second, http.StatusCreated)
	if second.Header().Get(ReplayedHeader) != "true" {
		t.Fatalf("replayed header = %q, want true", second.Header().Get(ReplayedHeader))
	}
	if a, b := decodeBody[views.Order](t, first), decodeBody[views.Order](t, second); a.ID != b.ID {
		t.Fatalf("replayed order id = %s, want %s", b.ID, a.ID)
	}

	changed := `{"seller_id":"seller-1","gross_amount":"41.00"}`
	wantError(t, f.do(t, http.MethodPost, "/v1/orders", &buyer, changed, headers), http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED")

	// Keys are scoped per caller.
	other := requestctx.Actor{ID: "buyer-2", Role: "buyer"}
	wantStatus(t, f.do(t, http.MethodPost, "/v1/orders", &other, changed, headers), http.StatusCreated)
}

func TestIdempotencyReplaysDomainErrors(t *testing.T) {
	f := newAPIFixture(t)
	o := f.awaitingOrder(t, "15.00")
	headers := map[string]string{IdempotencyKeyHeader: "complete-early"}

	first := f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/status", &buyer, `{"status":"completed"}`, headers)
	wantError(t, first, http.StatusConflict, "INVALID_TRANSITION")
	second := f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/status", &buyer, `{"status":"completed"}`, headers)
	wantError(t, second, http.StatusConflict, "INVALID_TRANSITION")
	if second.Header().Get(ReplayedHeader) != "true" {
		t.Fatalf("replayed header = %q, want true", second.Header().Get(ReplayedHeader))
	}
}

func TestPaymentStartIsRateLimited(t *testing.T) {
	f := newAPIFixture(t)
	o := f.awaitingOrder(t, "20.00")
	for i := 0; i < 10; i++ {
		wantStatus(t, f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/payments", &buyer, "", nil), http.StatusCreated)
	}
	wantError(t, f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/payments", &buyer, "", nil), http.StatusTooManyRequests, "ABUSE_RATE_LIMIT")

	events, err := f.store.ListRiskEvents(t.Context(), f.now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list risk events: %v", err)
	}
	if len(events) != 1 || events[0].Flow != abuse.FlowPaymentStart {
		t.Fatalf("risk events = %+v, want one payment_start denial", events)
	}
}

func TestErrorsAreLocalized(t *testing.T) {
	f := newAPIFixture(t)
	o := f.awaitingOrder(t, "30.00")

	english := wantError(t, f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/status", &seller, `{"status":"cancelled"}`, nil), http.StatusForbidden, "FORBIDDEN_TRANSITION")
	turkish := wantError(t, f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/status", &seller, `{"status":"cancelled"}`,
		map[string]string{"Accept-Language": "tr-TR"}), http.StatusForbidden, "FORBIDDEN_TRANSITION")
	if english.Error.Message == "" || english.Error.Message == turkish.Error.Message {
		t.Fatalf("messages = %q / %q, want distinct localized text", english.Error.Message, turkish.Error.Message)
	}
}

func TestRefundAndResolveOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	o := f.awaitingOrder(t, "100.00")
	payload := `{"id":"evt-pay","type":"payment.succeeded","data":{"order_id":"` + o.ID + `"}}`
	wantStatus(t, f.webhook(t, payload, f.verifier.Sign([]byte(payload))), http.StatusOK)

	rec := f.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/refunds", &buyer, `{"reason":"damaged","amount":"40.00"}`, nil)
	wantStatus(t, rec, http.StatusCreated)
	opened := decodeBody[views.Dispute](t, rec)
	if opened.Status != "open" || opened.RefundAmount != "40.00" {
		t.Fatalf("dispute = %+v, want open for 40.00", opened)
	}

	wantError(t, f.do(t, http.MethodPost, "/v1/disputes/"+opened.ID+"/resolve", &buyer, `{"outcome":"rejected"}`, nil), http.StatusForbidden, "PERMISSION_DENIED")

	rec = f.do(t, http.MethodPost, "/v1/disputes/"+opened.ID+"/resolve", &admin, `{"outcome":"refund_partial","amount":"40.00","liability":"seller"}`, nil)
	wantStatus(t, rec, http.StatusOK)
	resolution := decodeBody[views.Resolution](t, rec)
	if resolution.Dispute.Status != "resolved" || resolution.Adjustment == nil || resolution.Adjustment.SellerAmount != "-40.00" {
		t.Fatalf("resolution = %+v, want resolved with a -40.00 seller adjustment", resolution)
	}

	rec = f.do(t, http.MethodGet, "/v1/disputes/"+opened.ID, &seller, "", nil)
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody[views.Dispute](t, rec); len(got.Events) != 3 {
		t.Fatalf("events = %d, want opened, review and resolution", len(got.Events))
	}
}

func TestFinanceReportsOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/admin/commission-settings", &admin, `{"rate":"0.15","effective_from":"2026-01-01T00:00:00Z"}`, nil)
	wantStatus(t, rec, http.StatusCreated)
	if setting := decodeBody[views.CommissionSetting](t, rec); setting.Rate != "0.15" {
		t.Fatalf("rate = %s, want 0.15", setting.Rate)
	}
	wantError(t, f.do(t, http.MethodPost, "/v1/admin/commission-settings", &seller, `{"rate":"0.01"}`, nil), http.StatusForbidden, "PERMISSION_DENIED")

	o := f.awaitingOrder(t, "200.00")
	payload := `{"id":"evt-fin","type":"payment.succeeded","data":{"order_id":"` + o.ID + `"}}`
	wantStatus(t, f.webhook(t, payload, f.verifier.Sign([]byte(payload))), http.StatusOK)

	rec = f.do(t, http.MethodGet, "/v1/sellers/seller-1/finance-summary?from=2026-03-01&to=2026-03-02", &seller, "", nil)
	wantStatus(t, rec, http.StatusOK)
	summary := decodeBody[views.Report](t, rec)
	if summary.Totals.CommissionAmount != "30.00" || summary.Totals.SellerTotal != "170.00" {
		t.Fatalf("totals = %+v, want commission 30.00 and seller 170.00", summary.Totals)
	}

	wantError(t, f.do(t, http.MethodGet, "/v1/sellers/seller-1/finance-summary", &requestctx.Actor{ID: "seller-2", Role: "seller"}, "", nil), http.StatusForbidden, "PERMISSION_DENIED")
	wantError(t, f.do(t, http.MethodGet, "/v1/admin/reconciliation?from=yesterday", &admin, "", nil), http.StatusBadRequest, "INVALID_ARGUMENT")

	rec = f.do(t, http.MethodGet, "/v1/admin/reconciliation", &admin, "", nil)
	wantStatus(t, rec, http.StatusOK)
	if report := decodeBody[views.Report](t, rec); report.Totals.OrderCount != 1 || report.Totals.PlatformTotal != "30.00" {
		t.Fatalf("totals = %+v, want one order with platform 30.00", report.Totals)
	}
}
