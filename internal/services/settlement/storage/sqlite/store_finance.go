package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
)

const orderFinanceColumns = `order_id, seller_id, gross_amount, commission_rate_snapshot, commission_amount, seller_net_amount, finalized_at`

// PutOrderFinance inserts a commission snapshot once per order.
func (s *Store) PutOrderFinance(ctx context.Context, snapshot finance.OrderFinance) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if strings.TrimSpace(snapshot.OrderID) == "" {
		return false, fmt.Errorf("order id is required")
	}

	result, err := s.q.ExecContext(ctx, `
INSERT INTO order_finance (`+orderFinanceColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(order_id) DO NOTHING
`,
		snapshot.OrderID,
		snapshot.SellerID,
		moneyText(snapshot.GrossAmount),
		snapshot.CommissionRateSnapshot.String(),
		moneyText(snapshot.CommissionAmount),
		moneyText(snapshot.SellerNetAmount),
		toMillis(snapshot.FinalizedAt),
	)
	if err != nil {
		return false, fmt.Errorf("put order finance: %w", err)
	}
	rows, err := affected(result, "put order finance")
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// GetOrderFinance fetches the snapshot of an order.
func (s *Store) GetOrderFinance(ctx context.Context, orderID string) (finance.OrderFinance, error) {
	if err := s.ready(ctx); err != nil {
		return finance.OrderFinance{}, err
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+orderFinanceColumns+` FROM order_finance WHERE order_id = ?`, orderID)
	snapshot, err := scanOrderFinance(row.Scan)
	if err != nil {
		return finance.OrderFinance{}, notFoundOr(err, "get order finance")
	}
	return snapshot, nil
}

// ListOrderFinance returns snapshots finalized inside the filter period.
func (s *Store) ListOrderFinance(ctx context.Context, filter storage.FinanceFilter) ([]finance.OrderFinance, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	from, to := periodBounds(filter)

	rows, err := s.q.QueryContext(ctx, `
SELECT `+orderFinanceColumns+`
FROM order_finance
WHERE finalized_at >= ? AND finalized_at < ?
AND (? = '' OR seller_id = ?)
ORDER BY finalized_at ASC, order_id ASC
`, from, to, filter.SellerID, filter.SellerID)
	if err != nil {
		return nil, fmt.Errorf("list order finance: %w", err)
	}
	defer rows.Close()

	snapshots := make([]finance.OrderFinance, 0)
	for rows.Next() {
		snapshot, err := scanOrderFinance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan order finance: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order finance: %w", err)
	}
	return snapshots, nil
}

func scanOrderFinance(scan scanner) (finance.OrderFinance, error) {
	var (
		snapshot    finance.OrderFinance
		gross       string
		rate        string
		commission  string
		sellerNet   string
		finalizedAt int64
	)
	if err := scan(&snapshot.OrderID, &snapshot.SellerID, &gross, &rate, &commission, &sellerNet, &finalizedAt); err != nil {
		return finance.OrderFinance{}, err
	}
	var err error
	if snapshot.GrossAmount, err = parseDecimal("gross_amount", gross); err != nil {
		return finance.OrderFinance{}, err
	}
	if snapshot.CommissionRateSnapshot, err = parseDecimal("commission_rate_snapshot", rate); err != nil {
		return finance.OrderFinance{}, err
	}
	if snapshot.CommissionAmount, err = parseDecimal("commission_amount", commission); err != nil {
		return finance.OrderFinance{}, err
	}
	if snapshot.SellerNetAmount, err = parseDecimal("seller_net_amount", sellerNet); err != nil {
		return finance.OrderFinance{}, err
	}
	snapshot.FinalizedAt = fromMillis(finalizedAt)
	return snapshot, nil
}

const commissionSettingColumns = `id, rate, effective_from, is_active, created_by, created_at`

// PutCommissionSetting appends a commission rate version.
func (s *Store) PutCommissionSetting(ctx context.Context, setting finance.CommissionSetting) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(setting.ID) == "" {
		return fmt.Errorf("commission setting id is required")
	}
	active := 0
	if setting.IsActive {
		active = 1
	}

	_, err := s.q.ExecContext(ctx, `
INSERT INTO commission_settings (`+commissionSettingColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
`,
		setting.ID,
		setting.Rate.String(),
		toMillis(setting.EffectiveFrom),
		active,
		setting.CreatedBy,
		toMillis(setting.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put commission setting: %w", err)
	}
	return nil
}

// ActiveCommissionSetting returns the setting in force at at.
func (s *Store) ActiveCommissionSetting(ctx context.Context, at time.Time) (finance.CommissionSetting, error) {
	if err := s.ready(ctx); err != nil {
		return finance.CommissionSetting{}, err
	}

	row := s.q.QueryRowContext(ctx, `
SELECT `+commissionSettingColumns+`
FROM commission_settings
WHERE is_active = 1 AND effective_from <= ?
ORDER BY effective_from DESC, created_at DESC, id DESC
LIMIT 1
`, toMillis(at))
	var (
		setting       finance.CommissionSetting
		rate          string
		effectiveFrom int64
		active        int
		createdAt     int64
	)
	if err := row.Scan(&setting.ID, &rate, &effectiveFrom, &active, &setting.CreatedBy, &createdAt); err != nil {
		return finance.CommissionSetting{}, notFoundOr(err, "get active commission setting")
	}
	parsed, err := parseDecimal("rate", rate)
	if err != nil {
		return finance.CommissionSetting{}, err
	}
	setting.Rate = parsed
	setting.EffectiveFrom = fromMillis(effectiveFrom)
	setting.IsActive = active == 1
	setting.CreatedAt = fromMillis(createdAt)
	return setting, nil
}

const adjustmentColumns = `id, order_id, seller_id, dispute_id, kind, liability, seller_amount, platform_amount, reason, created_at`

// PutFinanceAdjustment appends an adjustment. The order must already carry
// a finance snapshot.
func (s *Store) PutFinanceAdjustment(ctx context.Context, adjustment finance.Adjustment) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(adjustment.ID) == "" {
		return fmt.Errorf("adjustment id is required")
	}

	_, err := s.q.ExecContext(ctx, `
INSERT INTO finance_adjustments (`+adjustmentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		adjustment.ID,
		adjustment.OrderID,
		adjustment.SellerID,
		adjustment.DisputeID,
		string(adjustment.Kind),
		adjustment.Liability,
		moneyText(adjustment.SellerAmount),
		moneyText(adjustment.PlatformAmount),
		adjustment.Reason,
		toMillis(adjustment.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put finance adjustment: %w", err)
	}
	return nil
}

// ListFinanceAdjustments returns adjustments created inside the filter period.
func (s *Store) ListFinanceAdjustments(ctx context.Context, filter storage.FinanceFilter) ([]finance.Adjustment, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	from, to := periodBounds(filter)

	rows, err := s.q.QueryContext(ctx, `
SELECT `+adjustmentColumns+`
FROM finance_adjustments
WHERE created_at >= ? AND created_at < ?
AND (? = '' OR seller_id = ?)
ORDER BY created_at ASC, id ASC
`, from, to, filter.SellerID, filter.SellerID)
	if err != nil {
		return nil, fmt.Errorf("list finance adjustments: %w", err)
	}
	defer rows.Close()

	adjustments := make([]finance.Adjustment, 0)
	for rows.Next() {
		var (
			adj         finance.Adjustment
			kind        string
			sellerAmt   string
			platformAmt string
			createdAt   int64
		)
		if err := rows.Scan(
			&adj.ID,
			&adj.OrderID,
			&adj.SellerID,
			&adj.DisputeID,
			&kind,
			&adj.Liability,
			&sellerAmt,
			&platformAmt,
			&adj.Reason,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan finance adjustment: %w", err)
		}
		if adj.SellerAmount, err = parseDecimal("seller_amount", sellerAmt); err != nil {
			return nil, err
		}
		if adj.PlatformAmount, err = parseDecimal("platform_amount", platformAmt); err != nil {
			return nil, err
		}
		adj.Kind = finance.AdjustmentKind(kind)
		adj.CreatedAt = fromMillis(createdAt)
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate finance adjustments: %w", err)
	}
	return adjustments, nil
}
