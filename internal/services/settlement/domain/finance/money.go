package finance

import (
	"strings"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits money carries.
const MoneyPlaces = 2

var (
	// ErrInvalidAmount indicates a malformed or non-positive money amount.
	ErrInvalidAmount = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "amount must be a positive decimal with at most two places", map[string]string{"Reason": "amount must be a positive decimal with at most two places"})
	// ErrInvalidRate indicates a commission rate outside [0, 1].
	ErrInvalidRate = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "commission rate must be between 0 and 1", map[string]string{"Reason": "commission rate must be between 0 and 1"})
	// ErrCurrencyMismatch indicates an amount in an unsupported currency.
	ErrCurrencyMismatch = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "currency is not supported", map[string]string{"Reason": "currency is not supported"})
)

// ParseAmount parses a positive money amount with at most two fractional
// digits.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}

// ValidateAmount checks that amount is positive and already rounded to cents.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Round(MoneyPlaces).Equal(amount) {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateRate checks that rate lies in [0, 1].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidRate
	}
	return nil
}

// NormalizeCurrency upper-cases currency and checks it against the single
// configured currency.
func NormalizeCurrency(given, configured string) (string, error) {
	configured = strings.ToUpper(strings.TrimSpace(configured))
	given = strings.ToUpper(strings.TrimSpace(given))
	if given == "" {
		return configured, nil
	}
	if given != configured {
		return "", ErrCurrencyMismatch
	}
	return given, nil
}

// Commission returns round(gross*rate, 2) rounded half away from zero and
// the seller's remainder.
func Commission(gross, rate decimal.Decimal) (commission, net decimal.Decimal) {
	commission = gross.Mul(rate).Round(MoneyPlaces)
	return commission, gross.Sub(commission)
}
