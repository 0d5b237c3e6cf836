package config

import (
	"fmt"
	"reflect"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// ParseEnv loads configuration from environment variables. Fields of type
// decimal.Decimal are parsed from their string form so money and rate
// settings never pass through float64.
func ParseEnv(target any) error {
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(decimal.Decimal{}): func(value string) (any, error) {
				parsed, err := decimal.NewFromString(value)
				if err != nil {
					return nil, fmt.Errorf("parse decimal %q: %w", value, err)
				}
				return parsed, nil
			},
		},
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
