package pricebook

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceKind distinguishes single-value prices from quantity tiers.
type PriceKind string

const (
	KindFixed  PriceKind = "fixed"
	KindVolume PriceKind = "volume"
)

// Tier is one step of a volume price.
type Tier struct {
	MinQuantity decimal.Decimal `json:"minQuantity"`
	Price       decimal.Decimal `json:"price"`
}

// Price is a price-book entry for one SKU/unit pair inside a column.
type Price struct {
	Kind       PriceKind       `json:"kind"`
	Value      decimal.Decimal `json:"value"`
	ValidFrom  *time.Time      `json:"validFrom,omitempty"`
	ValidUntil *time.Time      `json:"validUntil,omitempty"`
	Tiers      []Tier          `json:"tiers,omitempty"`
}

// Fixed builds a fixed price without a validity window.
func Fixed(value decimal.Decimal) Price {
	return Price{Kind: KindFixed, Value: value}
}

// Volume builds a tiered price.
func Volume(tiers ...Tier) Price {
	return Price{Kind: KindVolume, Tiers: tiers}
}

// Amount resolves the display value of the price at now. Fixed prices outside their
// [ValidFrom, ValidUntil) window and volume prices without a positive tier are absent.
func (p Price) Amount(now time.Time) (decimal.Decimal, bool) {
	switch p.Kind {
	case KindVolume:
		tiers := p.usableTiers()
		if len(tiers) == 0 {
			return decimal.Zero, false
		}
		return tiers[0].Price, true
	default:
		if !p.activeAt(now) || p.Value.IsNegative() {
			return decimal.Zero, false
		}
		return p.Value, true
	}
}

// AmountForQuantity resolves the value applicable to qty: the highest tier whose minimum is
// reached, falling back to the lowest tier. Fixed prices ignore qty.
func (p Price) AmountForQuantity(now time.Time, qty decimal.Decimal) (decimal.Decimal, bool) {
	if p.Kind != KindVolume {
		return p.Amount(now)
	}
	tiers := p.usableTiers()
	if len(tiers) == 0 {
		return decimal.Zero, false
	}
	chosen := tiers[0]
	for _, tier := range tiers[1:] {
		if tier.MinQuantity.LessThanOrEqual(qty) {
			chosen = tier
		}
	}
	return chosen.Price, true
}

func (p Price) activeAt(now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && !now.Before(*p.ValidUntil) {
		return false
	}
	return true
}

// usableTiers returns positive-price tiers ordered by minimum quantity.
func (p Price) usableTiers() []Tier {
	out := make([]Tier, 0, len(p.Tiers))
	for _, tier := range p.Tiers {
		if tier.Price.IsPositive() {
			out = append(out, tier)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinQuantity.LessThan(out[j].MinQuantity)
	})
	return out
}
