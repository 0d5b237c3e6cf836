package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderFinance is the immutable commission snapshot of one order.
type OrderFinance struct {
	OrderID                string
	SellerID               string
	GrossAmount            decimal.Decimal
	CommissionRateSnapshot decimal.Decimal
	CommissionAmount       decimal.Decimal
	SellerNetAmount        decimal.Decimal
	FinalizedAt            time.Time
}

// NewOrderFinance computes the snapshot for gross at rate.
func NewOrderFinance(orderID, sellerID string, gross, rate decimal.Decimal, at time.Time) OrderFinance {
	commission, net := Commission(gross, rate)
	return OrderFinance{
		OrderID:                orderID,
		SellerID:               sellerID,
		GrossAmount:            gross,
		CommissionRateSnapshot: rate,
		CommissionAmount:       commission,
		SellerNetAmount:        net,
		FinalizedAt:            at.UTC(),
	}
}

// CommissionSetting is one appended commission rate version.
type CommissionSetting struct {
	ID            string
	Rate          decimal.Decimal
	EffectiveFrom time.Time
	IsActive      bool
	CreatedBy     string
	CreatedAt     time.Time
}

// ActiveRate picks the active setting with the latest effective_from at or
// before at, falling back to defaultRate.
func ActiveRate(settings []CommissionSetting, at time.Time, defaultRate decimal.Decimal) decimal.Decimal {
	var best *CommissionSetting
	for i := range settings {
		s := &settings[i]
		if !s.IsActive || s.EffectiveFrom.After(at) {
			continue
		}
		if best == nil || s.EffectiveFrom.After(best.EffectiveFrom) ||
			(s.EffectiveFrom.Equal(best.EffectiveFrom) && s.CreatedAt.After(best.CreatedAt)) {
			best = s
		}
	}
	if best == nil {
		return defaultRate
	}
	return best.Rate
}

// AdjustmentKind names why an adjustment was recorded.
type AdjustmentKind string

const (
	// AdjustmentRefund records money returned to a buyer.
	AdjustmentRefund AdjustmentKind = "refund"
)

// Adjustment is an append-only correction next to an OrderFinance row.
// SellerAmount and PlatformAmount are signed deltas to the seller net and
// the platform commission respectively.
type Adjustment struct {
	ID             string
	OrderID        string
	SellerID       string
	DisputeID      string
	Kind           AdjustmentKind
	Liability      string
	SellerAmount   decimal.Decimal
	PlatformAmount decimal.Decimal
	Reason         string
	CreatedAt      time.Time
}
