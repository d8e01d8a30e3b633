package discount_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/discount"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newConverter(t *testing.T) *currency.Store {
	t.Helper()
	store, err := currency.NewStore([]currency.Descriptor{
		{Code: "PEN", Rate: dec("1"), Precision: 2, Active: true, Base: true},
		{Code: "USD", Rate: dec("3.75"), Precision: 2, Active: true},
	}, "", "")
	require.NoError(t, err)
	return store
}

func exclusiveLines(subtotals ...string) []pricing.Result {
	lines := make([]pricing.Result, 0, len(subtotals))
	for _, s := range subtotals {
		lines = append(lines, pricing.PriceLine(pricing.Line{Quantity: dec("1"), UnitPrice: dec(s)}, dec("0.18"), false))
	}
	return lines
}

func TestAllocatePercentOnSubtotal(t *testing.T) {
	conv := newConverter(t)
	lines := exclusiveLines("100", "300")

	alloc, err := discount.Allocate(discount.Input{Mode: discount.ModePercent, Percent: dec("10")}, lines, discount.TargetSubtotal, conv, "PEN")
	require.NoError(t, err)
	require.True(t, alloc.Amount.Equal(dec("40")))
	require.True(t, alloc.Shares[0].Equal(dec("10")))
	require.True(t, alloc.Shares[1].Equal(dec("30")))
	require.Equal(t, "106.20", alloc.Lines[0].Total.StringFixed(2))
	require.Equal(t, "318.60", alloc.Lines[1].Total.StringFixed(2))

	sum := pricing.Sum(alloc.Lines)
	require.True(t, sum.Total.Equal(dec("424.8")), sum.Total.String())
	require.True(t, sum.Total.Equal(dec("400").Sub(dec("40")).Mul(dec("1.18"))))

	desc := alloc.Describe()
	require.NotNil(t, desc)
	require.True(t, desc.Percent.Equal(dec("10")))
	require.False(t, desc.Clamped)
}

func TestAllocateAmountIsCapped(t *testing.T) {
	conv := newConverter(t)
	lines := exclusiveLines("100")

	alloc, err := discount.Allocate(discount.Input{Mode: discount.ModeAmount, Amount: dec("150")}, lines, discount.TargetSubtotal, conv, "PEN")
	require.NoError(t, err)
	require.True(t, alloc.Clamped)
	require.True(t, alloc.Amount.Equal(dec("100")))
	require.True(t, alloc.Lines[0].Total.IsZero())
	require.True(t, alloc.Lines[0].Tax.IsZero())
	require.False(t, alloc.Lines[0].Total.IsNegative())
}

func TestAllocateConvertsAmountCurrency(t *testing.T) {
	conv := newConverter(t)
	lines := exclusiveLines("100", "100")

	alloc, err := discount.Allocate(discount.Input{Mode: discount.ModeAmount, Amount: dec("10"), Currency: "usd"}, lines, discount.TargetSubtotal, conv, "PEN")
	require.NoError(t, err)
	require.True(t, alloc.Amount.Equal(dec("37.5")))
	require.True(t, alloc.Shares[0].Add(alloc.Shares[1]).Equal(dec("37.5")))

	_, err = discount.Allocate(discount.Input{Mode: discount.ModeAmount, Amount: dec("10"), Currency: "XXX"}, lines, discount.TargetSubtotal, conv, "PEN")
	require.ErrorIs(t, err, currency.ErrUnknownCurrency)
}

func TestAllocateLastEligibleLineAbsorbsRemainder(t *testing.T) {
	conv := newConverter(t)
	lines := exclusiveLines("10", "10", "10", "0")

	alloc, err := discount.Allocate(discount.Input{Mode: discount.ModeAmount, Amount: dec("10")}, lines, discount.TargetSubtotal, conv, "PEN")
	require.NoError(t, err)

	total := decimal.Zero
	for _, share := range alloc.Shares {
		total = total.Add(share)
	}
	require.True(t, total.Equal(dec("10")), total.String())
	require.True(t, alloc.Shares[3].IsZero(), "zero line is not eligible")
	require.True(t, alloc.Shares[0].Equal(alloc.Shares[1]))
	require.True(t, alloc.Shares[2].Equal(dec("10").Sub(alloc.Shares[0]).Sub(alloc.Shares[1])))
	require.True(t, alloc.Lines[3].Total.IsZero())
}

func TestAllocateInclusiveKeepsTaxRatio(t *testing.T) {
	conv := newConverter(t)
	lines := []pricing.Result{
		pricing.PriceLine(pricing.Line{Quantity: dec("1"), UnitPrice: dec("118")}, dec("0.18"), true),
		pricing.PriceLine(pricing.Line{Quantity: dec("1"), UnitPrice: dec("50")}, dec("0"), true),
	}

	alloc, err := discount.Allocate(discount.Input{Mode: discount.ModePercent, Percent: dec("50")}, lines, discount.TargetTotal, conv, "PEN")
	require.NoError(t, err)
	require.True(t, alloc.Amount.Equal(dec("84")))
	require.True(t, alloc.Lines[0].Total.Equal(dec("59")))
	require.Equal(t, "50.00", alloc.Lines[0].Subtotal.StringFixed(2))
	require.True(t, alloc.Lines[1].Total.Equal(dec("25")))
	for _, line := range alloc.Lines {
		require.True(t, line.Subtotal.Add(line.Tax).Equal(line.Total))
	}
}

func TestAllocateNoOp(t *testing.T) {
	conv := newConverter(t)
	lines := exclusiveLines("100", "300")

	cases := []struct {
		name  string
		input discount.Input
		lines []pricing.Result
	}{
		{name: "zero percent", input: discount.Input{Mode: discount.ModePercent}, lines: lines},
		{name: "negative amount", input: discount.Input{Mode: discount.ModeAmount, Amount: dec("-5")}, lines: lines},
		{name: "rounds to zero", input: discount.Input{Mode: discount.ModeAmount, Amount: dec("0.001")}, lines: lines},
		{name: "unknown mode", input: discount.Input{Mode: "bogus", Amount: dec("5")}, lines: lines},
		{name: "no eligible lines", input: discount.Input{Mode: discount.ModePercent, Percent: dec("10")}, lines: exclusiveLines("0")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alloc, err := discount.Allocate(tc.input, tc.lines, discount.TargetSubtotal, conv, "PEN")
			require.NoError(t, err)
			require.False(t, alloc.Applied())
			require.Nil(t, alloc.Describe())
			require.Equal(t, tc.lines, alloc.Lines)
		})
	}
}

func TestInputValidate(t *testing.T) {
	require.NoError(t, discount.Input{Mode: "PERCENT", Percent: dec("100")}.Validate())
	require.NoError(t, discount.Input{Mode: discount.ModeAmount, Amount: dec("0")}.Validate())
	require.ErrorIs(t, discount.Input{Mode: discount.ModePercent, Percent: dec("101")}.Validate(), discount.ErrInvalidDiscount)
	require.ErrorIs(t, discount.Input{Mode: discount.ModeAmount, Amount: dec("-1")}.Validate(), discount.ErrInvalidDiscount)
	require.ErrorIs(t, discount.Input{}.Validate(), discount.ErrInvalidDiscount)
}

func TestTargetFor(t *testing.T) {
	require.Equal(t, discount.TargetTotal, discount.TargetFor(true))
	require.Equal(t, discount.TargetSubtotal, discount.TargetFor(false))
}

func TestNormalize(t *testing.T) {
	conv := newConverter(t)
	lines := exclusiveLines("100", "300")

	amount, err := discount.Normalize(discount.Input{Mode: discount.ModePercent, Percent: dec("12.345")}, lines, discount.TargetTotal, conv, "PEN")
	require.NoError(t, err)
	// 12.345% of 472 rounded to cents
	require.Equal(t, "58.27", amount.StringFixed(2))

	amount, err = discount.Normalize(discount.Input{Mode: discount.ModeAmount, Amount: dec("1000")}, lines, discount.TargetSubtotal, conv, "PEN")
	require.NoError(t, err)
	require.True(t, amount.Equal(dec("400")))
}

func TestComputeRoundingSpillIsNotClamped(t *testing.T) {
	conv := newConverter(t)

	amount, clamped, err := discount.Compute(dec("33.335"), discount.Input{Mode: discount.ModePercent, Percent: dec("100")}, conv, "PEN")
	require.NoError(t, err)
	require.False(t, clamped)
	require.True(t, amount.Equal(dec("33.335")), amount.String())

	amount, clamped, err = discount.Compute(dec("33.335"), discount.Input{Mode: discount.ModeAmount, Amount: dec("40")}, conv, "PEN")
	require.NoError(t, err)
	require.True(t, clamped)
	require.True(t, amount.Equal(dec("33.335")), amount.String())

	amount, clamped, err = discount.Compute(dec("33.335"), discount.Input{Mode: discount.ModePercent, Percent: dec("50")}, conv, "PEN")
	require.NoError(t, err)
	require.False(t, clamped)
	require.True(t, amount.Equal(dec("16.67")), amount.String())
}
