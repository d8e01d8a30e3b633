package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestPriceLineExclusive(t *testing.T) {
	res := PriceLine(Line{Quantity: d("2"), UnitPrice: d("50")}, d("0.18"), false)
	if !res.Subtotal.Equal(d("100")) || !res.Tax.Equal(d("18")) || !res.Total.Equal(d("118")) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPriceLineInclusive(t *testing.T) {
	res := PriceLine(Line{Quantity: d("1"), UnitPrice: d("118")}, d("0.18"), true)
	if !res.Total.Equal(d("118")) {
		t.Fatalf("expected total 118, got %s", res.Total)
	}
	if res.Subtotal.Round(2).String() != "100" || res.Tax.Round(2).String() != "18" {
		t.Fatalf("unexpected split %+v", res)
	}
	if !res.Subtotal.Add(res.Tax).Equal(res.Total) {
		t.Fatalf("subtotal + tax must equal total")
	}
}

func TestPriceLineDiscountActsOnOwnBase(t *testing.T) {
	excl := PriceLine(Line{Quantity: d("1"), UnitPrice: d("100"), DiscountPercent: d("10")}, d("0.18"), false)
	if !excl.Subtotal.Equal(d("90")) || !excl.Total.Equal(d("106.2")) {
		t.Fatalf("exclusive discount: %+v", excl)
	}

	incl := PriceLine(Line{Quantity: d("1"), UnitPrice: d("118"), DiscountPercent: d("50")}, d("0.18"), true)
	if !incl.Total.Equal(d("59")) {
		t.Fatalf("inclusive discount: %+v", incl)
	}
}

func TestPriceLineGuards(t *testing.T) {
	cases := []struct {
		name string
		line Line
		rate string
		want string
	}{
		{name: "negative quantity", line: Line{Quantity: d("-3"), UnitPrice: d("10")}, rate: "0.18", want: "0"},
		{name: "negative price", line: Line{Quantity: d("3"), UnitPrice: d("-10")}, rate: "0.18", want: "0"},
		{name: "negative rate", line: Line{Quantity: d("1"), UnitPrice: d("10")}, rate: "-0.5", want: "10"},
		{name: "discount above 100", line: Line{Quantity: d("1"), UnitPrice: d("10"), DiscountPercent: d("150")}, rate: "0", want: "0"},
		{name: "negative discount", line: Line{Quantity: d("1"), UnitPrice: d("10"), DiscountPercent: d("-5")}, rate: "0", want: "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := PriceLine(tc.line, d(tc.rate), false)
			if !res.Total.Equal(d(tc.want)) {
				t.Fatalf("expected total %s, got %s", tc.want, res.Total)
			}
			if res.Total.IsNegative() {
				t.Fatalf("total must not be negative")
			}
		})
	}
}

func TestRoundKeepsTripleConsistent(t *testing.T) {
	res := PriceLine(Line{Quantity: d("3"), UnitPrice: d("3.33")}, d("0.18"), true).Round(2)
	if !res.Subtotal.Add(res.Tax).Equal(res.Total) {
		t.Fatalf("rounded triple inconsistent: %+v", res)
	}
	if res.Total.String() != "9.99" || res.Subtotal.String() != "8.47" {
		t.Fatalf("unexpected rounding %+v", res)
	}
}

func TestSumAndScale(t *testing.T) {
	results := Price([]Line{
		{Quantity: d("1"), UnitPrice: d("100")},
		{Quantity: d("1"), UnitPrice: d("300")},
	}, d("0.18"), false)
	total := Sum(results)
	if !total.Total.Equal(d("472")) {
		t.Fatalf("expected 472, got %s", total.Total)
	}
	half := total.Scale(d("0.5"))
	if !half.Subtotal.Equal(d("200")) || !half.Tax.Equal(d("36")) {
		t.Fatalf("unexpected scale %+v", half)
	}
}
