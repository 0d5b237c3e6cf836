package finance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind tags a report line with the row type it came from.
type ItemKind string

const (
	ItemOrderFinance ItemKind = "order_finance"
	ItemAdjustment   ItemKind = "adjustment"
)

// MarshalText implements encoding.TextMarshaler, rejecting unknown kinds.
func (k ItemKind) MarshalText() ([]byte, error) {
	switch k {
	case ItemOrderFinance, ItemAdjustment:
		return []byte(k), nil
	default:
		return nil, fmt.Errorf("unknown report item kind %q", string(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler, rejecting unknown kinds.
func (k *ItemKind) UnmarshalText(text []byte) error {
	switch candidate := ItemKind(text); candidate {
	case ItemOrderFinance, ItemAdjustment:
		*k = candidate
		return nil
	default:
		return fmt.Errorf("unknown report item kind %q", string(text))
	}
}

// ReportItem is one auditable row of a finance report. For order_finance
// items SellerAmount is the seller net and PlatformAmount the commission;
// for adjustments both are the signed deltas.
type ReportItem struct {
	Kind           ItemKind        `json:"kind"`
	ReferenceID    string          `json:"reference_id"`
	OrderID        string          `json:"order_id"`
	SellerID       string          `json:"seller_id"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	SellerAmount   decimal.Decimal `json:"seller_amount"`
	PlatformAmount decimal.Decimal `json:"platform_amount"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// ItemFromOrderFinance converts a snapshot into a report line.
func ItemFromOrderFinance(of OrderFinance) ReportItem {
	return ReportItem{
		Kind:           ItemOrderFinance,
		ReferenceID:    of.OrderID,
		OrderID:        of.OrderID,
		SellerID:       of.SellerID,
		GrossAmount:    of.GrossAmount,
		SellerAmount:   of.SellerNetAmount,
		PlatformAmount: of.CommissionAmount,
		OccurredAt:     of.FinalizedAt,
	}
}

// ItemFromAdjustment converts an adjustment into a report line.
func ItemFromAdjustment(adj Adjustment) ReportItem {
	return ReportItem{
		Kind:           ItemAdjustment,
		ReferenceID:    adj.ID,
		OrderID:        adj.OrderID,
		SellerID:       adj.SellerID,
		GrossAmount:    decimal.Zero,
		SellerAmount:   adj.SellerAmount,
		PlatformAmount: adj.PlatformAmount,
		OccurredAt:     adj.CreatedAt,
	}
}

// Totals aggregates report lines.
type Totals struct {
	OrderCount          int             `json:"order_count"`
	AdjustmentCount     int             `json:"adjustment_count"`
	GrossAmount         decimal.Decimal `json:"gross_amount"`
	CommissionAmount    decimal.Decimal `json:"commission_amount"`
	SellerNetAmount     decimal.Decimal `json:"seller_net_amount"`
	SellerAdjustments   decimal.Decimal `json:"seller_adjustments"`
	PlatformAdjustments decimal.Decimal `json:"platform_adjustments"`
	SellerTotal         decimal.Decimal `json:"seller_total"`
	PlatformTotal       decimal.Decimal `json:"platform_total"`
}

// Report is an itemized finance view over a half-open period [From, To).
type Report struct {
	SellerID string       `json:"seller_id,omitempty"`
	From     time.Time    `json:"from"`
	To       time.Time    `json:"to"`
	Items    []ReportItem `json:"items"`
	Totals   Totals       `json:"totals"`
}

// BuildReport derives totals from items only, so a report can never carry
// an aggregate that its lines do not add up to.
func BuildReport(sellerID string, from, to time.Time, items []ReportItem) Report {
	totals := Totals{
		GrossAmount:         decimal.Zero,
		CommissionAmount:    decimal.Zero,
		SellerNetAmount:     decimal.Zero,
		SellerAdjustments:   decimal.Zero,
		PlatformAdjustments: decimal.Zero,
	}
	for _, item := range items {
		switch item.Kind {
		case ItemOrderFinance:
			totals.OrderCount++
			totals.GrossAmount = totals.GrossAmount.Add(item.GrossAmount)
			totals.CommissionAmount = totals.CommissionAmount.Add(item.PlatformAmount)
			totals.SellerNetAmount = totals.SellerNetAmount.Add(item.SellerAmount)
		case ItemAdjustment:
			totals.AdjustmentCount++
			totals.SellerAdjustments = totals.SellerAdjustments.Add(item.SellerAmount)
			totals.PlatformAdjustments = totals.PlatformAdjustments.Add(item.PlatformAmount)
		}
	}
	totals.SellerTotal = totals.SellerNetAmount.Add(totals.SellerAdjustments)
	totals.PlatformTotal = totals.CommissionAmount.Add(totals.PlatformAdjustments)
	if items == nil {
		items = []ReportItem{}
	}
	return Report{
		SellerID: sellerID,
		From:     from.UTC(),
		To:       to.UTC(),
		Items:    items,
		Totals:   totals,
	}
}
