// Package money provides the monetary helpers shared by the checkout and
// reconciliation packages: gross/net/VAT splitting and minor-unit conversion.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in major units with its ISO 4217 currency code.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// FromMinor converts an amount in minor units (cents) to major units.
func FromMinor(amountMinor int64) float64 {
	return float64(amountMinor) / 100
}

// ToMinor converts an amount in major units to minor units (cents).
func ToMinor(amount float64) int64 {
	d := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100))
	return d.Round(0).IntPart()
}

// Round2 rounds to two decimal places. Only applied at display/wire
// boundaries; intermediate math stays unrounded to avoid compounding error.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// SplitGross removes the VAT percentage from a gross amount.
// net = gross / (1 + vatPercent/100), vat = gross - net. The returned values
// are unrounded; callers round for display via Round2.
func SplitGross(gross, vatPercent float64) (net, vat float64) {
	g := decimal.NewFromFloat(gross)
	divisor := decimal.NewFromFloat(vatPercent).
		Div(decimal.NewFromInt(100)).
		Add(decimal.NewFromInt(1))
	n := g.Div(divisor)
	net, _ = n.Float64()
	vat, _ = g.Sub(n).Float64()
	return net, vat
}

// AbsDiscount normalizes a discount to a non-negative value regardless of the
// host's signed-discount convention.
func AbsDiscount(discount float64) float64 {
	r := Round2(discount)
	if r < 0 {
		return -r
	}
	return r
}

// Min returns the smaller of two amounts in major units.
func Min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// String formats an amount for order comments and logs.
func (a Amount) String() string {
	return fmt.Sprintf("%.2f %s", a.Value, a.Currency)
}
