// Package httpapi exposes the settlement service as a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/platform/httpx"
	"github.com/louisbranch/settlement/internal/platform/requestctx"
	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/idempotency"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
)

const (
	// IdempotencyKeyHeader carries the caller-chosen key of a mutating request.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency ledger.
	ReplayedHeader = "Idempotent-Replayed"
)

// Options configures the HTTP API.
type Options struct {
	Service *service.Service
	// Ledger is optional; without it Idempotency-Key headers are ignored.
	Ledger *idempotency.Ledger
	// Gate is optional; without it payment and refund flows are not throttled.
	Gate *abuse.Gate
	// Authn verifies callers of every /v1/ route except the provider webhook.
	Authn          httpx.Middleware
	TrustForwarded bool
}

type handler struct {
	svc    *service.Service
	ledger *idempotency.Ledger
	gate   *abuse.Gate
}

// New builds the API handler with its middleware chain.
func New(opts Options) (http.Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("settlement service is required")
	}
	if opts.Authn == nil {
		return nil, errors.New("authentication middleware is required")
	}
	h := &handler{svc: opts.Service, ledger: opts.Ledger, gate: opts.Gate}

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/orders", h.placeOrder)
	api.HandleFunc("GET /v1/orders/{id}", h.getOrder)
	api.HandleFunc("POST /v1/orders/{id}/status", h.setOrderStatus)
	api.HandleFunc("POST /v1/orders/{id}/payments", h.startPayment)
	api.HandleFunc("GET /v1/orders/{id}/payment-status", h.paymentStatus)
	api.HandleFunc("POST /v1/orders/{id}/refunds", h.requestRefund)
	api.HandleFunc("GET /v1/disputes/{id}", h.getDispute)
	api.HandleFunc("POST /v1/disputes/{id}/review", h.reviewDispute)
	api.HandleFunc("POST /v1/disputes/{id}/resolve", h.resolveDispute)
	api.HandleFunc("POST /v1/admin/commission-settings", h.setCommissionRate)
	api.HandleFunc("GET /v1/admin/reconciliation", h.reconciliation)
	api.HandleFunc("GET /v1/sellers/{id}/finance-summary", h.sellerSummary)

	root := http.NewServeMux()
	root.HandleFunc("POST /v1/payments/webhook", h.paymentWebhook)
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/v1/", httpx.Chain(api, opts.Authn))

	return httpx.Chain(root,
		httpx.RequestID(),
		httpx.RecoverPanic(),
		httpx.AccessLog(),
		httpx.ClientIP(opts.TrustForwarded),
		httpx.Locale(),
	), nil
}

func actorFrom(ctx context.Context) order.Actor {
	actor, _ := requestctx.ActorFromContext(ctx)
	return order.Actor{ID: actor.ID, Role: order.ParseRole(actor.Role)}
}

// result is what a mutating operation hands back for rendering.
type result struct {
	status int
	body   any
}

// mutation describes one mutating request: the operation name that scopes
// its idempotency key, the abuse flow guarding it, and the request fields
// that make up its fingerprint.
type mutation struct {
	operation string
	flow      abuse.Flow
	request   any
	run       func(ctx context.Context) (result, error)
}

// execute runs m behind the abuse gate and, when the caller sent an
// Idempotency-Key, the idempotency ledger. The ledger commit happens only
// after run returned, which is after the operation's transaction committed.
// Server failures release the key so the caller can retry with it.
func (h *handler) execute(w http.ResponseWriter, r *http.Request, m mutation) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	if h.gate != nil && m.flow != "" {
		if err := h.gate.Check(ctx, m.flow, requestctx.ClientIPFromContext(ctx), actor.ID); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	rawKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if rawKey == "" || h.ledger == nil {
		res, err := m.run(ctx)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		_ = httpx.WriteJSON(w, res.status, res.body)
		return
	}

	scope := idempotency.Scope(m.operation, actor.ID)
	fingerprint, err := idempotency.Fingerprint(actor.ID, m.operation, m.request)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	decision, err := h.ledger.Begin(ctx, scope, rawKey, fingerprint)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if decision.Outcome == idempotency.OutcomeReplay && decision.Response != nil {
		w.Header().Set(ReplayedHeader, "true")
		writeRaw(w, decision.Response.Status, decision.Response.Body)
		return
	}

	settle := context.WithoutCancel(ctx)
	res, runErr := m.run(ctx)
	var payload any
	if runErr != nil {
		status, body := httpx.ErrorResponse(ctx, runErr)
		if status >= http.StatusInternalServerError {
			if err := h.ledger.Release(settle, scope, rawKey, fingerprint); err != nil {
				log.Printf("release idempotency key operation=%s err=%v", m.operation, err)
			}
			httpx.WriteError(w, r, runErr)
			return
		}
		res, payload = result{status: status}, body
	} else {
		payload = res.body
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		_ = h.ledger.Release(settle, scope, rawKey, fingerprint)
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.ledger.Commit(settle, scope, rawKey, fingerprint, idempotency.Response{Status: res.status, Body: encoded}); err != nil {
		log.Printf("commit idempotency key operation=%s err=%v", m.operation, err)
	}
	writeRaw(w, res.status, encoded)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

func invalidArgument(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, reason, map[string]string{"Reason": reason})
}
