// Package views renders settlement records as the JSON documents shared by
// the HTTP API and the admin gRPC API. Money is always rendered with two
// decimal places.
package views

import (
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/domain/dispute"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
)

func money(value decimal.Decimal) string {
	return value.StringFixed(finance.MoneyPlaces)
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

// Order is the JSON form of an order.
type Order struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	GrossAmount string    `json:"gross_amount"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FromOrder renders o.
func FromOrder(o order.Order) Order {
	return Order{
		ID:          o.ID,
		Status:      string(o.Status),
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		GrossAmount: money(o.GrossAmount),
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt.UTC(),
		UpdatedAt:   o.UpdatedAt.UTC(),
	}
}

// PaymentSession is the JSON form of a started checkout.
type PaymentSession struct {
	AttemptID   string    `json:"attempt_id"`
	OrderID     string    `json:"order_id"`
	SessionRef  string    `json:"session_ref"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromPaymentSession renders session.
func FromPaymentSession(session service.PaymentSession) PaymentSession {
	return PaymentSession{
		AttemptID:   session.AttemptID,
		OrderID:     session.OrderID,
		SessionRef:  session.SessionRef,
		RedirectURL: session.RedirectURL,
		Amount:      money(session.Amount),
		Currency:    session.Currency,
		Status:      string(session.Status),
		CreatedAt:   session.CreatedAt.UTC(),
	}
}

// PaymentAttempt is the JSON form of a checkout attempt.
type PaymentAttempt struct {
	ID         string    `json:"id"`
	SessionRef string    `json:"session_ref"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PaymentStatus is the JSON form of a payment status report.
type PaymentStatus struct {
	OrderID     string           `json:"order_id"`
	OrderStatus string           `json:"order_status"`
	Paid        bool             `json:"paid"`
	Attempts    []PaymentAttempt `json:"attempts"`
}

// FromPaymentStatus renders report.
func FromPaymentStatus(report service.PaymentStatusReport) PaymentStatus {
	attempts := make([]PaymentAttempt, 0, len(report.Attempts))
	for _, attempt := range report.Attempts {
		attempts = append(attempts, fromAttempt(attempt))
	}
	return PaymentStatus{
		OrderID:     report.OrderID,
		OrderStatus: string(report.OrderStatus),
		Paid:        report.Paid,
		Attempts:    attempts,
	}
}

func fromAttempt(attempt storage.PaymentAttempt) PaymentAttempt {
	return PaymentAttempt{
		ID:         attempt.ID,
		SessionRef: attempt.ProviderSessionRef,
		Status:     string(attempt.Status),
		CreatedAt:  attempt.CreatedAt.UTC(),
		UpdatedAt:  attempt.UpdatedAt.UTC(),
	}
}

// Callback is the JSON acknowledgement of a provider callback.
type Callback struct {
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
	DisputeID   string `json:"dispute_id,omitempty"`
	Duplicate   bool   `json:"duplicate"`
}

// FromCallback renders result.
func FromCallback(result service.CallbackResult) Callback {
	return Callback{
		EventID:     result.EventID,
		EventType:   string(result.EventType),
		OrderID:     result.OrderID,
		OrderStatus: string(result.OrderStatus),
		DisputeID:   result.DisputeID,
		Duplicate:   result.Duplicate,
	}
}

// DisputeEvent is the JSON form of one audit trail entry.
type DisputeEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Liability  string    `json:"liability"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Dispute is the JSON form of a dispute case.
type Dispute struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"order_id"`
	Source          string         `json:"source"`
	Status          string         `json:"status"`
	Liability       string         `json:"liability"`
	Reason          string         `json:"reason,omitempty"`
	Outcome         string         `json:"outcome,omitempty"`
	RefundAmount    string         `json:"refund_amount"`
	ProviderCaseRef string         `json:"provider_case_ref,omitempty"`
	OpenedBy        string         `json:"opened_by"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	Events          []DisputeEvent `json:"events,omitempty"`
}

// FromDispute renders c without its audit trail.
func FromDispute(c dispute.Case) Dispute {
	return Dispute{
		ID:              c.ID,
		OrderID:         c.OrderID,
		Source:          string(c.Source),
		Status:          string(c.Status),
		Liability:       string(c.Liability),
		Reason:          c.Reason,
		Outcome:         string(c.Outcome),
		RefundAmount:    money(c.RefundAmount),
		ProviderCaseRef: c.ProviderCaseRef,
		OpenedBy:        c.OpenedBy,
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
		ResolvedAt:      optionalTime(c.ResolvedAt),
	}
}

// FromDisputeView renders a case with its audit trail.
func FromDisputeView(view service.DisputeView) Dispute {
	rendered := FromDispute(view.Case)
	rendered.Events = make([]DisputeEvent, 0, len(view.Events))
	for _, event := range view.Events {
		rendered.Events = append(rendered.Events, DisputeEvent{
			ID:         event.ID,
			Type:       string(event.Type),
			ActorID:    event.ActorID,
			ActorRole:  event.ActorRole,
			FromStatus: string(event.FromStatus),
			ToStatus:   string(event.ToStatus),
			Liability:  string(event.Liability),
			Note:       event.Note,
			CreatedAt:  event.CreatedAt.UTC(),
		})
	}
	return rendered
}

// Adjustment is the JSON form of a finance adjustment.
type Adjustment struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	SellerID       string    `json:"seller_id"`
	DisputeID      string    `json:"dispute_id"`
	Kind           string    `json:"kind"`
	Liability      string    `json:"liability"`
	SellerAmount   string    `json:"seller_amount"`
	PlatformAmount string    `json:"platform_amount"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Resolution is the JSON form of a dispute resolution.
type Resolution struct {
	Dispute    Dispute     `json:"dispute"`
	Adjustment *Adjustment `json:"adjustment,omitempty"`
}

// FromResolution renders result.
func FromResolution(result service.ResolveResult) Resolution {
	rendered := Resolution{Dispute: FromDispute(result.Case)}
	if adj := result.Adjustment; adj != nil {
		rendered.Adjustment = &Adjustment{
			ID:             adj.ID,
			OrderID:        adj.OrderID,
			SellerID:       adj.SellerID,
			DisputeID:      adj.DisputeID,
			Kind:           string(adj.Kind),
			Liability:      adj.Liability,
			SellerAmount:   money(adj.SellerAmount),
			PlatformAmount: money(adj.PlatformAmount),
			Reason:         adj.Reason,
			CreatedAt:      adj.CreatedAt.UTC(),
		}
	}
	return rendered
}

// CommissionSetting is the JSON form of a commission rate version.
type CommissionSetting struct {
	ID            string    `json:"id"`
	Rate          string    `json:"rate"`
	EffectiveFrom time.Time `json:"effective_from"`
	IsActive      bool      `json:"is_active"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// FromCommissionSetting renders setting.
func FromCommissionSetting(setting finance.CommissionSetting) CommissionSetting {
	return CommissionSetting{
		ID:            setting.ID,
		Rate:          setting.Rate.String(),
		EffectiveFrom: setting.EffectiveFrom.UTC(),
		IsActive:      setting.IsActive,
		CreatedBy:     setting.CreatedBy,
		CreatedAt:     setting.CreatedAt.UTC(),
	}
}

// ReportItem is one line of a finance report.
type ReportItem struct {
	Kind           finance.ItemKind `json:"kind"`
	ReferenceID    string           `json:"reference_id"`
	OrderID        string           `json:"order_id"`
	SellerID       string           `json:"seller_id"`
	GrossAmount    string           `json:"gross_amount"`
	SellerAmount   string           `json:"seller_amount"`
	PlatformAmount string           `json:"platform_amount"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// ReportTotals aggregates a finance report.
type ReportTotals struct {
	OrderCount          int    `json:"order_count"`
	AdjustmentCount     int    `json:"adjustment_count"`
	GrossAmount         string `json:"gross_amount"`
	CommissionAmount    string `json:"commission_amount"`
	SellerNetAmount     string `json:"seller_net_amount"`
	SellerAdjustments   string `json:"seller_adjustments"`
	PlatformAdjustments string `json:"platform_adjustments"`
	SellerTotal         string `json:"seller_total"`
	PlatformTotal       string `json:"platform_total"`
}

// Report is the JSON form of a seller summary or reconciliation report.
type Report struct {
	SellerID string       `json:"seller_id,omitempty"`
	From     *time.Time   `json:"from,omitempty"`
	To       *time.Time   `json:"to,omitempty"`
	Items    []ReportItem `json:"items"`
	Totals   ReportTotals `json:"totals"`
}

// FromReport renders report.
func FromReport(report finance.Report) Report {
	items := make([]ReportItem, 0, len(report.Items))
	for _, item := range report.Items {
		items = append(items, ReportItem{
			Kind:           item.Kind,
			ReferenceID:    item.ReferenceID,
			OrderID:        item.OrderID,
			SellerID:       item.SellerID,
			GrossAmount:    money(item.GrossAmount),
			SellerAmount:   money(item.SellerAmount),
			PlatformAmount: money(item.PlatformAmount),
			OccurredAt:     item.OccurredAt.UTC(),
		})
	}
	totals := report.Totals
	return Report{
		SellerID: report.SellerID,
		From:     optionalTime(report.From),
		To:       optionalTime(report.To),
		Items:    items,
		Totals: ReportTotals{
			OrderCount:          totals.OrderCount,
			AdjustmentCount:     totals.AdjustmentCount,
			GrossAmount:         money(totals.GrossAmount),
			CommissionAmount:    money(totals.CommissionAmount),
			SellerNetAmount:     money(totals.SellerNetAmount),
			SellerAdjustments:   money(totals.SellerAdjustments),
			PlatformAdjustments: money(totals.PlatformAdjustments),
			SellerTotal:         money(totals.SellerTotal),
			PlatformTotal:       money(totals.PlatformTotal),
		},
	}
}
