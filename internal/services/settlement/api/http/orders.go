package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/louisbranch/settlement/internal/platform/httpx"
	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"github.com/louisbranch/settlement/internal/services/settlement/api/views"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/payment"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
)

type placeOrderRequest struct {
	SellerID    string `json:"seller_id"`
	GrossAmount string `json:"gross_amount"`
	Currency    string `json:"currency,omitempty"`
}

// setStatusRequest takes its order id from the path; a body value is
// overwritten.
type setStatusRequest struct {
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
}

// orderRef fingerprints requests whose only input is the path.
type orderRef struct {
	OrderID string `json:"order_id"`
}

func (h *handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.execute(w, r, mutation{
		operation: "orders.place",
		request:   req,
		run: func(ctx context.Context) (result, error) {
			gross, err := finance.ParseAmount(req.GrossAmount)
			if err != nil {
				return result{}, err
			}
			o, err := h.svc.PlaceOrder(ctx, actorFrom(ctx), service.PlaceOrderInput{
				SellerID:    req.SellerID,
				GrossAmount: gross,
				Currency:    req.Currency,
			})
			if err != nil {
				return result{}, err
			}
			return result{status: http.StatusCreated, body: views.FromOrder(o)}, nil
		},
	})
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.svc.GetOrder(ctx, actorFrom(ctx), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, views.FromOrder(o))
}

func (h *handler) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.OrderID = r.PathValue("id")
	h.execute(w, r, mutation{
		operation: "orders.set_status",
		request:   req,
		run: func(ctx context.Context) (result, error) {
			o, err := h.svc.SetOrderStatus(ctx, actorFrom(ctx), req.OrderID, req.Status)
			if err != nil {
				return result{}, err
			}
			return result{status: http.StatusOK, body: views.FromOrder(o)}, nil
		},
	})
}

func (h *handler) startPayment(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	h.execute(w, r, mutation{
		operation: "payments.start",
		flow:      abuse.FlowPaymentStart,
		request:   orderRef{OrderID: orderID},
		run: func(ctx context.Context) (result, error) {
			session, err := h.svc.StartPayment(ctx, actorFrom(ctx), orderID)
			if err != nil {
				return result{}, err
			}
			return result{status: http.StatusCreated, body: views.FromPaymentSession(session)}, nil
		},
	})
}

func (h *handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.svc.CheckPaymentStatus(ctx, actorFrom(ctx), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, views.FromPaymentStatus(report))
}

// paymentWebhook receives provider callbacks. It sits outside caller
// authentication; the body signature is the only credential.
func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes))
	if err != nil {
		httpx.WriteError(w, r, invalidArgument("read callback body"))
		return
	}
	res, err := h.svc.ConfirmPaymentCallback(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, views.FromCallback(res))
}
