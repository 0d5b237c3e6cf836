package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/louisbranch/settlement/internal/platform/httpx"
	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"github.com/louisbranch/settlement/internal/services/settlement/api/views"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
	"github.com/shopspring/decimal"
)

type refundRequest struct {
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason"`
	Amount  string `json:"amount,omitempty"`
}

type reviewRequest struct {
	DisputeID string `json:"dispute_id,omitempty"`
	Note      string `json:"note,omitempty"`
}

type resolveRequest struct {
	DisputeID string `json:"dispute_id,omitempty"`
	Liability string `json:"liability,omitempty"`
	Outcome   string `json:"outcome"`
	Amount    string `json:"amount,omitempty"`
	Note      string `json:"note,omitempty"`
}

// optionalAmount parses an amount that may be omitted.
func optionalAmount(raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	amount, err := finance.ParseAmount(raw)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

// decodeOptional decodes a body the caller may leave empty.
func decodeOptional(r *http.Request, target any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeJSON(r, target)
}

func (h *handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.OrderID = r.PathValue("id")
	h.execute(w, r, mutation{
		operation: "refunds.request",
		flow:      abuse.FlowRefundRequest,
		request:   req,
		run: func(ctx context.Context) (result, error) {
			amount, err := optionalAmount(req.Amount)
			if err != nil {
				return result{}, err
			}
			c, err := h.svc.RequestRefund(ctx, actorFrom(ctx), req.OrderID, service.RefundInput{
				Reason: req.Reason,
				Amount: amount,
			})
			if err != nil {
				return result{}, err
			}
			return result{status: http.StatusCreated, body: views.FromDispute(c)}, nil
		},
	})
}

func (h *handler) getDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.svc.GetDispute(ctx, actorFrom(ctx), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, views.FromDisputeView(view))
}

func (h *handler) reviewDispute(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.DisputeID = r.PathValue("id")
	h.execute(w, r, mutation{
		operation: "disputes.review",
		request:   req,
		run: func(ctx context.Context) (result, error) {
			c, err := h.svc.ReviewDispute(ctx, actorFrom(ctx), req.DisputeID, req.Note)
			if err != nil {
				return result{}, err
			}
			return result{status: http.StatusOK, body: views.FromDispute(c)}, nil
		},
	})
}

func (h *handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.DisputeID = r.PathValue("id")
	h.execute(w, r, mutation{
		operation: "disputes.resolve",
		request:   req,
		run: func(ctx context.Context) (result, error) {
			amount, err := optionalAmount(req.Amount)
			if err != nil {
				return result{}, err
			}
			res, err := h.svc.ResolveDispute(ctx, actorFrom(ctx), req.DisputeID, service.ResolveInput{
				Liability: req.Liability,
				Outcome:   req.Outcome,
				Amount:    amount,
				Note:      req.Note,
			})
			if err != nil {
				return result{}, err
			}
			return result{status: http.StatusOK, body: views.FromResolution(res)}, nil
		},
	})
}
