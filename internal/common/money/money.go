// Package money handles Mozambican metical amounts in minor units (centavos).
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Checkout bounds in centavos. Amounts outside the range are rejected
// before anything reaches the gateway.
const (
	MinCheckout int64 = 1 * 100
	MaxCheckout int64 = 50_000 * 100
)

// ErrOutOfRange is returned for amounts outside [MinCheckout, MaxCheckout].
var ErrOutOfRange = errors.New("amount out of allowed range")

// Amount is a metical amount in centavos.
type Amount int64

// New creates an Amount from centavos.
func New(centavos int64) Amount {
	return Amount(centavos)
}

// FromMZN creates an Amount from a major-unit metical value.
func FromMZN(mzn float64) Amount {
	return Amount(int64(math.Round(mzn * 100)))
}

// MZN returns the amount in major units.
func (a Amount) MZN() float64 {
	return float64(a) / 100
}

// InCheckoutRange reports whether the amount is acceptable for checkout.
func (a Amount) InCheckoutRange() bool {
	return int64(a) >= MinCheckout && int64(a) <= MaxCheckout
}

// Validate returns ErrOutOfRange unless the amount is within checkout bounds.
func (a Amount) Validate() error {
	if !a.InCheckoutRange() {
		return fmt.Errorf("%w: %s", ErrOutOfRange, a.Format())
	}
	return nil
}

// ValidateMZN validates a major-unit value without constructing an Amount.
// Non-finite values are rejected outright.
func ValidateMZN(mzn float64) bool {
	if math.IsNaN(mzn) || math.IsInf(mzn, 0) {
		return false
	}
	return FromMZN(mzn).InCheckoutRange()
}

// ApplyDiscountPercent returns the amount after a percentage discount,
// rounded to the nearest centavo. Percentages outside [0, 100] are clamped.
func (a Amount) ApplyDiscountPercent(percent float64) Amount {
	if percent <= 0 {
		return a
	}
	if percent > 100 {
		percent = 100
	}
	discounted := float64(a) - float64(a)*percent/100
	return Amount(int64(math.Round(discounted)))
}

// Format renders the amount in the pt-MZ convention: "1.234,56 MZN".
func (a Amount) Format() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}

	major := v / 100
	minor := v % 100

	digits := strconv.FormatInt(major, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	fmt.Fprintf(&b, ",%02d MZN", minor)
	return b.String()
}

// String implements fmt.Stringer.
func (a Amount) String() string {
	return a.Format()
}

// GatewayValue renders the amount the way the gateway expects it: a plain
// major-unit decimal string with a dot separator and no trailing zeros
// ("300", "49.5").
func (a Amount) GatewayValue() string {
	return strconv.FormatFloat(a.MZN(), 'f', -1, 64)
}

// ParseMZN parses a major-unit decimal string ("300", "49.50") into an Amount.
func ParseMZN(s string) (Amount, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parsing amount %q: not finite", s)
	}
	return FromMZN(f), nil
}
