package tax

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CategorySales is the rule category preferred when selecting the active tax rule.
const CategorySales = "sales"

// Kind classifies the tax liability of a line.
type Kind string

const (
	KindTaxed      Kind = "taxed"
	KindExempt     Kind = "exempt"
	KindUnaffected Kind = "unaffected"
)

// Order returns the position of the kind in breakdown listings.
func (k Kind) Order() int {
	switch k {
	case KindTaxed:
		return 0
	case KindExempt:
		return 1
	case KindUnaffected:
		return 2
	default:
		return 3
	}
}

// ParseKind maps a configuration tag onto a kind. Unknown tags are treated as taxed.
func ParseKind(tag string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(tag))) {
	case KindExempt:
		return KindExempt
	case KindUnaffected:
		return KindUnaffected
	default:
		return KindTaxed
	}
}

// Treatment is the configured tax treatment of a line.
type Treatment struct {
	Kind Kind            `json:"kind"`
	Rate decimal.Decimal `json:"rate"`
}

// EffectiveRate is the rate applied to the line; only taxed lines carry a positive rate.
func (t Treatment) EffectiveRate() decimal.Decimal {
	if t.Kind != KindTaxed && t.Kind != "" {
		return decimal.Zero
	}
	if t.Rate.IsNegative() {
		return decimal.Zero
	}
	return t.Rate
}

// Normalized fills in the taxed kind for an empty treatment.
func (t Treatment) Normalized() Treatment {
	if t.Kind == "" {
		t.Kind = KindTaxed
	}
	t.Rate = t.EffectiveRate()
	return t
}

// Rule is one entry of the tax configuration.
type Rule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	Rate             decimal.Decimal `json:"rate"`
	PricesIncludeTax bool            `json:"pricesIncludeTax"`
	Active           bool            `json:"active"`
	Default          bool            `json:"default"`
}

// SelectRule returns the first active default sales rule, falling back to the first active rule.
func SelectRule(rules []Rule) (Rule, bool) {
	for _, r := range rules {
		if r.Active && r.Default && strings.EqualFold(strings.TrimSpace(r.Category), CategorySales) {
			return r, true
		}
	}
	for _, r := range rules {
		if r.Active {
			return r, true
		}
	}
	return Rule{}, false
}

// PricesIncludeTax reports whether quoted prices carry tax. Without a selectable rule prices are
// treated as tax-inclusive.
func PricesIncludeTax(rules []Rule) bool {
	if r, ok := SelectRule(rules); ok {
		return r.PricesIncludeTax
	}
	return true
}

// DefaultTreatment is the treatment applied to lines without their own configuration.
func DefaultTreatment(rules []Rule) Treatment {
	if r, ok := SelectRule(rules); ok {
		return Treatment{Kind: KindTaxed, Rate: r.Rate}.Normalized()
	}
	return Treatment{Kind: KindTaxed, Rate: decimal.Zero}
}
