package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/platform/httpx"
	"github.com/louisbranch/settlement/internal/services/settlement/api/views"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
	"github.com/shopspring/decimal"
)

type commissionRequest struct {
	Rate          string     `json:"rate"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
}

func (h *handler) setCommissionRate(w http.ResponseWriter, r *http.Request) {
	var req commissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.execute(w, r, mutation{
		operation: "commission.set",
		request:   req,
		run: func(ctx context.Context) (result, error) {
			rate, err := decimal.NewFromString(strings.TrimSpace(req.Rate))
			if err != nil {
				return result{}, invalidArgument("rate must be a decimal")
			}
			in := service.CommissionRateInput{Rate: rate}
			if req.EffectiveFrom != nil {
				in.EffectiveFrom = *req.EffectiveFrom
			}
			setting, err := h.svc.SetCommissionRate(ctx, actorFrom(ctx), in)
			if err != nil {
				return result{}, err
			}
			return result{status: http.StatusCreated, body: views.FromCommissionSetting(setting)}, nil
		},
	})
}

func (h *handler) sellerSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := parsePeriod(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	report, err := h.svc.SellerFinanceSummary(ctx, actorFrom(ctx), r.PathValue("id"), from, to)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, views.FromReport(report))
}

func (h *handler) reconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := parsePeriod(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	report, err := h.svc.ReconciliationReport(ctx, actorFrom(ctx), from, to)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, views.FromReport(report))
}

// parsePeriod reads the optional from and to query parameters. Each accepts
// RFC 3339 timestamps or plain dates, which mean midnight UTC.
func parsePeriod(query url.Values) (from, to time.Time, err error) {
	if from, err = parseBound(query.Get("from")); err != nil {
		return time.Time{}, time.Time{}, invalidArgument("from must be an RFC 3339 time or a YYYY-MM-DD date")
	}
	if to, err = parseBound(query.Get("to")); err != nil {
		return time.Time{}, time.Time{}, invalidArgument("to must be an RFC 3339 time or a YYYY-MM-DD date")
	}
	return from, to, nil
}

func parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}
