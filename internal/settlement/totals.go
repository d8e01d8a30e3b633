package settlement

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/discount"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

// Amounts is a subtotal/tax/total triple in the document currency.
type Amounts struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

func amountsOf(r pricing.Result) Amounts {
	return Amounts{Subtotal: r.Subtotal, Tax: r.Tax, Total: r.Total}
}

// DiscountSummary describes the global discount reflected in a PaymentTotals.
type DiscountSummary struct {
	Mode      discount.Mode   `json:"mode"`
	Target    discount.Target `json:"target"`
	Requested discount.Input  `json:"requested"`
	// Percent is the applied amount as a share of the eligible base.
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
	Clamped bool            `json:"clamped"`
}

// LineTotals is one priced cart line in the document currency.
type LineTotals struct {
	ID        uuid.UUID        `json:"id"`
	SKU       string           `json:"sku"`
	Unit      string           `json:"unit"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unitPrice"`
	Kind      tax.Kind         `json:"taxKind"`
	Rate      decimal.Decimal  `json:"taxRate"`
	Subtotal  decimal.Decimal  `json:"subtotal"`
	Tax       decimal.Decimal  `json:"tax"`
	Total     decimal.Decimal  `json:"total"`
	Discount  decimal.Decimal  `json:"discount"`
	Manual    bool             `json:"manualPrice"`
	Source    cart.PriceSource `json:"source"`
}

// PaymentTotals is the settlement summary handed to the payment step.
type PaymentTotals struct {
	Currency         string           `json:"currency"`
	BaseCurrency     string           `json:"baseCurrency"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	Tax              decimal.Decimal  `json:"tax"`
	Total            decimal.Decimal  `json:"total"`
	Discount         *DiscountSummary `json:"discount,omitempty"`
	Breakdown        []tax.Row        `json:"breakdown"`
	PreDiscount      Amounts          `json:"preDiscount"`
	Lines            []LineTotals     `json:"lines"`
	PricesIncludeTax bool             `json:"pricesIncludeTax"`
	MissingPrices    int              `json:"missingPrices"`
}

// Clone returns a copy that shares no slices or pointers with t.
func (t PaymentTotals) Clone() PaymentTotals {
	out := t
	if t.Discount != nil {
		d := *t.Discount
		out.Discount = &d
	}
	if t.Breakdown != nil {
		out.Breakdown = append([]tax.Row(nil), t.Breakdown...)
	}
	if t.Lines != nil {
		out.Lines = append([]LineTotals(nil), t.Lines...)
	}
	return out
}

// Compute prices items against snap and rates, applies the optional global discount and expresses
// every amount in the document currency. Unit prices are taken to be in the base currency.
func Compute(items []cart.Item, snap Snapshot, rates currency.Snapshot, in *discount.Input) (PaymentTotals, error) {
	base, doc := rates.BaseCode, rates.Document
	inclusive := snap.PricesIncludeTax()
	fallback := snap.DefaultTreatment()

	treatments := make([]tax.Treatment, len(items))
	pre := make([]pricing.Result, len(items))
	for i, item := range items {
		treatment := fallback
		if item.Tax != nil {
			treatment = item.Tax.Normalized()
		}
		treatments[i] = treatment
		pre[i] = pricing.PriceLine(pricing.Line{
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.DiscountPercent,
		}, treatment.EffectiveRate(), inclusive)
	}

	post := pre
	var alloc discount.Allocation
	target := discount.TargetFor(inclusive)
	if in != nil {
		var err error
		alloc, err = discount.Allocate(*in, pre, target, rates, base)
		if err != nil {
			return PaymentTotals{}, err
		}
		post = alloc.Lines
	}

	out := PaymentTotals{
		Currency:         doc,
		BaseCurrency:     base,
		PricesIncludeTax: inclusive,
		Lines:            make([]LineTotals, len(items)),
	}
	preSum := pricing.Result{Subtotal: decimal.Zero, Tax: decimal.Zero, Total: decimal.Zero}
	postSum := preSum
	taxLines := make([]tax.Line, len(items))
	for i, item := range items {
		preDoc, err := toDocument(pre[i], rates, base, doc)
		if err != nil {
			return PaymentTotals{}, err
		}
		postDoc, err := toDocument(post[i], rates, base, doc)
		if err != nil {
			return PaymentTotals{}, err
		}
		unitPrice, err := rates.Convert(item.UnitPrice, base, doc, nil)
		if err != nil {
			return PaymentTotals{}, fmt.Errorf("convert unit price: %w", err)
		}
		preSum = preSum.Add(preDoc)
		postSum = postSum.Add(postDoc)
		taxLines[i] = tax.Line{Treatment: treatments[i], Result: postDoc}
		if item.Source.Missing && !item.ManualPrice {
			out.MissingPrices++
		}
		out.Lines[i] = LineTotals{
			ID:        item.ID,
			SKU:       item.SKU,
			Unit:      item.Unit,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
			Kind:      treatments[i].Kind,
			Rate:      treatments[i].EffectiveRate(),
			Subtotal:  postDoc.Subtotal,
			Tax:       postDoc.Tax,
			Total:     postDoc.Total,
			Discount:  target.Of(preDoc).Sub(target.Of(postDoc)),
			Manual:    item.ManualPrice,
			Source:    item.Source,
		}
	}

	out.PreDiscount = amountsOf(preSum)
	out.Subtotal = postSum.Subtotal
	out.Tax = postSum.Tax
	out.Total = postSum.Total
	out.Breakdown = tax.Aggregate(taxLines)

	if desc := alloc.Describe(); desc != nil {
		out.Discount = &DiscountSummary{
			Mode:      desc.Mode,
			Target:    target,
			Requested: *in,
			Percent:   desc.Percent.Round(2),
			Amount:    target.Of(preSum).Sub(target.Of(postSum)),
			Clamped:   desc.Clamped,
		}
	}
	return out, nil
}

// toDocument converts a base-currency line into the document currency. Total and subtotal are
// rounded independently and tax is their difference.
func toDocument(r pricing.Result, rates currency.Snapshot, base, doc string) (pricing.Result, error) {
	total, err := rates.Convert(r.Total, base, doc, nil)
	if err != nil {
		return pricing.Result{}, fmt.Errorf("convert line total: %w", err)
	}
	subtotal, err := rates.Convert(r.Subtotal, base, doc, nil)
	if err != nil {
		return pricing.Result{}, fmt.Errorf("convert line subtotal: %w", err)
	}
	return pricing.Result{Subtotal: subtotal, Tax: total.Sub(subtotal), Total: total}, nil
}
