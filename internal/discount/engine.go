package discount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/pricing"
)

var (
	// ErrInvalidDiscount is returned when a discount input cannot be interpreted.
	ErrInvalidDiscount = errors.New("invalid discount")

	hundred = decimal.NewFromInt(100)
)

// Mode selects how a global discount is expressed.
type Mode string

const (
	ModePercent Mode = "percent"
	ModeAmount  Mode = "amount"
)

// Input is the single global discount applied to a cart.
type Input struct {
	Mode     Mode            `json:"mode" validate:"required,oneof=percent amount"`
	Percent  decimal.Decimal `json:"percent"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

// Validate checks the input shape before it reaches the allocator.
func (in Input) Validate() error {
	switch Mode(strings.ToLower(string(in.Mode))) {
	case ModePercent:
		if in.Percent.IsNegative() || in.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: percent must be between 0 and 100", ErrInvalidDiscount)
		}
	case ModeAmount:
		if in.Amount.IsNegative() {
			return fmt.Errorf("%w: amount must not be negative", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidDiscount, in.Mode)
	}
	return nil
}

func (in Input) mode() Mode {
	return Mode(strings.ToLower(string(in.Mode)))
}

// Target names the line component a global discount acts on.
type Target string

const (
	TargetSubtotal Target = "subtotal"
	TargetTotal    Target = "total"
)

// TargetFor returns total for tax-inclusive prices and subtotal otherwise.
func TargetFor(pricesIncludeTax bool) Target {
	if pricesIncludeTax {
		return TargetTotal
	}
	return TargetSubtotal
}

// Of extracts the target component of a line.
func (t Target) Of(r pricing.Result) decimal.Decimal {
	if t == TargetTotal {
		return r.Total
	}
	return r.Subtotal
}

// Converter converts amounts between currencies, rounding to the destination precision.
type Converter interface {
	Convert(amount decimal.Decimal, from, to string, override *decimal.Decimal) (decimal.Decimal, error)
}

// EligibleSubtotal sums the positive target values of lines.
func EligibleSubtotal(lines []pricing.Result, target Target) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if v := target.Of(line); v.IsPositive() {
			total = total.Add(v)
		}
	}
	return total
}

// Compute turns the input into a base-currency amount rounded to the base precision. The second
// return value reports whether the requested amount had to be capped at eligible.
func Compute(eligible decimal.Decimal, in Input, conv Converter, base string) (decimal.Decimal, bool, error) {
	if !eligible.IsPositive() {
		return decimal.Zero, false, nil
	}
	var raw decimal.Decimal
	switch in.mode() {
	case ModePercent:
		raw = pricing.ClampPercent(in.Percent).Div(hundred).Mul(eligible)
	case ModeAmount:
		from := in.Currency
		if strings.TrimSpace(from) == "" {
			from = base
		}
		converted, err := conv.Convert(in.Amount, from, base, nil)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("convert discount: %w", err)
		}
		raw = converted
	default:
		return decimal.Zero, false, nil
	}
	// base to base conversion only rounds
	amount, err := conv.Convert(raw, base, base, nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("round discount: %w", err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, false, nil
	}
	// clamped reports a request beyond the eligible base, not rounding spill
	if amount.GreaterThan(eligible) {
		return eligible, raw.GreaterThan(eligible), nil
	}
	return amount, false, nil
}

// Normalize returns the base-currency amount the input would discount from lines.
func Normalize(in Input, lines []pricing.Result, target Target, conv Converter, base string) (decimal.Decimal, error) {
	amount, _, err := Compute(EligibleSubtotal(lines, target), in, conv, base)
	return amount, err
}

// Allocation is the outcome of distributing a global discount over lines.
type Allocation struct {
	Lines    []pricing.Result
	Shares   []decimal.Decimal
	Amount   decimal.Decimal
	Eligible decimal.Decimal
	Clamped  bool
	Mode     Mode
}

// Applied reports whether any discount was distributed.
func (a Allocation) Applied() bool {
	return a.Amount.IsPositive()
}

// Allocate distributes the discount over lines whose target is positive, proportionally to that
// target. The last eligible line takes the remainder so the shares add up to the amount exactly.
// Each line keeps its tax ratio. A zero discount or an empty eligible set leaves lines unchanged.
func Allocate(in Input, lines []pricing.Result, target Target, conv Converter, base string) (Allocation, error) {
	out := Allocation{
		Lines:    append([]pricing.Result(nil), lines...),
		Shares:   make([]decimal.Decimal, len(lines)),
		Amount:   decimal.Zero,
		Eligible: EligibleSubtotal(lines, target),
		Mode:     in.mode(),
	}
	for i := range out.Shares {
		out.Shares[i] = decimal.Zero
	}

	amount, clamped, err := Compute(out.Eligible, in, conv, base)
	if err != nil {
		return out, err
	}
	if !amount.IsPositive() {
		return out, nil
	}
	out.Amount = amount
	out.Clamped = clamped

	last := -1
	for i, line := range lines {
		if target.Of(line).IsPositive() {
			last = i
		}
	}

	allocated := decimal.Zero
	for i, line := range lines {
		value := target.Of(line)
		if !value.IsPositive() {
			continue
		}
		var share decimal.Decimal
		if i == last {
			share = amount.Sub(allocated)
		} else {
			share = amount.Mul(value).Div(out.Eligible)
		}
		share = clamp(share, value)
		allocated = allocated.Add(share)
		out.Shares[i] = share
		out.Lines[i] = rescale(line, target, value.Sub(share))
	}
	return out, nil
}

// rescale shrinks a line so its target component becomes remaining, moving the other components
// by the same factor.
func rescale(line pricing.Result, target Target, remaining decimal.Decimal) pricing.Result {
	factor := remaining.Div(target.Of(line))
	if target == TargetTotal {
		subtotal := line.Subtotal.Mul(factor)
		return pricing.Result{Subtotal: subtotal, Tax: remaining.Sub(subtotal), Total: remaining}
	}
	tax := line.Tax.Mul(factor)
	return pricing.Result{Subtotal: remaining, Tax: tax, Total: remaining.Add(tax)}
}

func clamp(v, upper decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(upper) {
		return upper
	}
	return v
}

// Descriptor summarises an applied discount.
type Descriptor struct {
	Mode    Mode            `json:"mode"`
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
	Clamped bool            `json:"clamped,omitempty"`
}

// Describe returns the descriptor of an allocation, expressing the amount as a percentage of the
// eligible base. It returns nil when nothing was applied.
func (a Allocation) Describe() *Descriptor {
	if !a.Applied() || !a.Eligible.IsPositive() {
		return nil
	}
	return &Descriptor{
		Mode:    a.Mode,
		Percent: a.Amount.Mul(hundred).Div(a.Eligible),
		Amount:  a.Amount,
		Clamped: a.Clamped,
	}
}
