package pricing

import "github.com/shopspring/decimal"

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Line describes the inputs needed to price one cart line.
type Line struct {
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
}

// Result holds the computed amounts of a line at full precision.
type Result struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// PriceLine prices a single line. When pricesIncludeTax is set the unit price already carries
// tax and the line discount applies to the inclusive total; otherwise it applies to the subtotal.
// Negative quantities, prices and rates are treated as zero.
func PriceLine(line Line, taxRate decimal.Decimal, pricesIncludeTax bool) Result {
	qty := nonNegative(line.Quantity)
	price := nonNegative(line.UnitPrice)
	rate := nonNegative(taxRate)
	keep := one.Sub(ClampPercent(line.DiscountPercent).Div(hundred))

	gross := price.Mul(qty).Mul(keep)
	if pricesIncludeTax {
		subtotal := gross.Div(one.Add(rate))
		return Result{Subtotal: subtotal, Tax: gross.Sub(subtotal), Total: gross}
	}
	tax := gross.Mul(rate)
	return Result{Subtotal: gross, Tax: tax, Total: gross.Add(tax)}
}

// Price prices every line with the same rate and inclusivity.
func Price(lines []Line, taxRate decimal.Decimal, pricesIncludeTax bool) []Result {
	out := make([]Result, len(lines))
	for i, line := range lines {
		out[i] = PriceLine(line, taxRate, pricesIncludeTax)
	}
	return out
}

// ClampPercent bounds a percentage to [0, 100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// Scale multiplies every component by factor.
func (r Result) Scale(factor decimal.Decimal) Result {
	return Result{
		Subtotal: r.Subtotal.Mul(factor),
		Tax:      r.Tax.Mul(factor),
		Total:    r.Total.Mul(factor),
	}
}

// Add sums two results component-wise.
func (r Result) Add(o Result) Result {
	return Result{
		Subtotal: r.Subtotal.Add(o.Subtotal),
		Tax:      r.Tax.Add(o.Tax),
		Total:    r.Total.Add(o.Total),
	}
}

// Round rounds total and subtotal to precision and derives tax from them so the triple stays
// consistent after rounding.
func (r Result) Round(precision int32) Result {
	total := r.Total.Round(precision)
	subtotal := r.Subtotal.Round(precision)
	return Result{Subtotal: subtotal, Tax: total.Sub(subtotal), Total: total}
}

// Sum adds results together.
func Sum(results []Result) Result {
	acc := Result{Subtotal: decimal.Zero, Tax: decimal.Zero, Total: decimal.Zero}
	for _, r := range results {
		acc = acc.Add(r)
	}
	return acc
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
