package checkout

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// ErrAmountOutOfRange is returned when an amount cannot be expressed in the
// currency's minor units.
var ErrAmountOutOfRange = errors.New("checkout: amount out of range")

// MinorUnits converts a whole-unit amount into the currency's minor units
// using the ISO 4217 standard scale (INR and USD: 2 digits, JPY: 0).
// Negative amounts and results that would overflow int64 are rejected.
func MinorUnits(amount int64, code string) (int64, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("checkout: unknown currency %q: %w", code, err)
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: %d", ErrAmountOutOfRange, amount)
	}
	scale, _ := currency.Standard.Rounding(unit)
	out := amount
	for i := 0; i < scale; i++ {
		if out > math.MaxInt64/10 {
			return 0, fmt.Errorf("%w: %d %s", ErrAmountOutOfRange, amount, unit)
		}
		out *= 10
	}
	return out, nil
}
