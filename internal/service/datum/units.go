package datum

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

var (
	kelvinOffset     = apd.New(27315, -2)
	fahrenheitOffset = apd.New(32, 0)
	fahrenheitRatio  = apd.New(5, 0)
	fahrenheitDiv    = apd.New(9, 0)
)

func decimalContext() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = apd.RoundHalfUp
	return ctx
}

func parseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("invalid decimal %q: not finite", s)
	}
	return d, nil
}

// normalize converts a reading value to the unit it is stored in.
// Temperatures are stored in Celsius, rounded to the decimal places of the
// reported value; all other units are kept as reported.
func normalize(r *domain.SampledReading) (float64, error) {
	v, err := parseDecimal(r.Value)
	if err != nil {
		return 0, err
	}

	ctx := decimalContext()
	var out apd.Decimal
	switch r.Unit {
	case domain.UnitK:
		if _, err := ctx.Sub(&out, v, kelvinOffset); err != nil {
			return 0, err
		}
	case domain.UnitFahrenheit:
		if _, err := ctx.Sub(&out, v, fahrenheitOffset); err != nil {
			return 0, err
		}
		if _, err := ctx.Mul(&out, &out, fahrenheitRatio); err != nil {
			return 0, err
		}
		if _, err := ctx.Quo(&out, &out, fahrenheitDiv); err != nil {
			return 0, err
		}
	default:
		return v.Float64()
	}

	exp := v.Exponent
	if exp > 0 {
		exp = 0
	}
	if _, err := ctx.Quantize(&out, &out, exp); err != nil {
		return 0, err
	}
	return out.Float64()
}

// difference returns b - a for two decimal texts.
func difference(a, b string) (float64, error) {
	da, err := parseDecimal(a)
	if err != nil {
		return 0, err
	}
	db, err := parseDecimal(b)
	if err != nil {
		return 0, err
	}
	var out apd.Decimal
	if _, err := decimalContext().Sub(&out, db, da); err != nil {
		return 0, err
	}
	return out.Float64()
}
