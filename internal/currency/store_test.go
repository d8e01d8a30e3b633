package currency_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/currency"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newStore(t *testing.T) *currency.Store {
	t.Helper()
	store, err := currency.NewStore([]currency.Descriptor{
		{Code: "PEN", Rate: dec("1"), Precision: 2, Symbol: "S/", Active: true, Base: true},
		{Code: "usd", Rate: dec("3.75"), Precision: 2, Symbol: "$", Active: true},
		{Code: "JPY", Rate: dec("0.025"), Precision: 0, Symbol: "¥", Active: true},
		{Code: "EUR", Rate: dec("4"), Precision: 2, Symbol: "€", Position: currency.SymbolAfter, Active: true},
	}, "", "")
	require.NoError(t, err)
	return store
}

func TestNewStoreRequiresBase(t *testing.T) {
	_, err := currency.NewStore([]currency.Descriptor{{Code: "USD", Rate: dec("1"), Precision: 2}}, "", "")
	require.ErrorIs(t, err, currency.ErrBaseCurrency)

	_, err = currency.NewStore([]currency.Descriptor{{Code: "USD", Rate: dec("0"), Precision: 2}}, "USD", "")
	require.ErrorIs(t, err, currency.ErrInvalidCurrency)

	_, err = currency.NewStore([]currency.Descriptor{{Code: "USD", Rate: dec("1"), Precision: 2}}, "PEN", "")
	require.ErrorIs(t, err, currency.ErrUnknownCurrency)
}

func TestGetRatePivotsThroughBase(t *testing.T) {
	store := newStore(t)

	rate, err := store.GetRate("USD", "PEN")
	require.NoError(t, err)
	require.True(t, rate.Equal(dec("3.75")), rate.String())

	rate, err = store.GetRate("USD", "JPY")
	require.NoError(t, err)
	require.True(t, rate.Equal(dec("150")), rate.String())

	rate, err = store.GetRate("jpy", "JPY")
	require.NoError(t, err)
	require.True(t, rate.Equal(dec("1")))

	_, err = store.GetRate("USD", "GBP")
	require.ErrorIs(t, err, currency.ErrUnknownCurrency)
}

func TestConvertRoundsToDestinationPrecision(t *testing.T) {
	store := newStore(t)

	got, err := store.Convert(dec("100"), "PEN", "USD", nil)
	require.NoError(t, err)
	require.Equal(t, "26.67", got.StringFixed(2))

	got, err = store.Convert(dec("123.45"), "USD", "JPY", nil)
	require.NoError(t, err)
	require.Equal(t, "18518", got.String())

	override := dec("4")
	got, err = store.Convert(dec("10"), "USD", "PEN", &override)
	require.NoError(t, err)
	require.Equal(t, "40", got.String())
}

func TestConvertIdentityLaw(t *testing.T) {
	store := newStore(t)
	for _, code := range []string{"PEN", "USD", "JPY", "EUR"} {
		desc, ok := store.Descriptor(code)
		require.True(t, ok)
		for _, raw := range []string{"0", "10.555", "1234.5", "0.004", "99999.995"} {
			x := dec(raw)
			got, err := store.Convert(x, code, code, nil)
			require.NoError(t, err)
			require.True(t, got.Equal(x.Round(desc.Precision)), "%s %s -> %s", code, raw, got)
		}
	}
}

func TestConvertRoundTripWithinTolerance(t *testing.T) {
	store := newStore(t)
	codes := []string{"PEN", "USD", "JPY", "EUR"}
	for _, a := range codes {
		for _, b := range codes {
			da, _ := store.Descriptor(a)
			db, _ := store.Descriptor(b)
			back, err := store.GetRate(b, a)
			require.NoError(t, err)
			unitA := decimal.New(1, -da.Precision)
			unitB := decimal.New(1, -db.Precision)
			tolerance := unitA.Add(unitB.Mul(back))
			for _, raw := range []string{"1", "19.99", "123.45", "5000"} {
				x := dec(raw)
				there, err := store.Convert(x, a, b, nil)
				require.NoError(t, err)
				again, err := store.Convert(there, b, a, nil)
				require.NoError(t, err)
				diff := again.Sub(x.Round(da.Precision)).Abs()
				require.True(t, diff.LessThanOrEqual(tolerance), "%s->%s->%s: %s vs %s", a, b, a, x, again)
			}
		}
	}
}

func TestSetBaseCurrencyKeepsStoredRates(t *testing.T) {
	store := newStore(t)
	require.Equal(t, "PEN", store.Document())

	require.NoError(t, store.SetBaseCurrency("USD"))
	require.Equal(t, "USD", store.Base())
	require.Equal(t, "USD", store.Document(), "document following old base must move")

	pen, ok := store.Descriptor("PEN")
	require.True(t, ok)
	require.True(t, pen.Rate.Equal(dec("1")), "stored rate must not change")
	require.False(t, pen.Base)

	snap := store.Snapshot()
	eff, err := snap.EffectiveRate("USD")
	require.NoError(t, err)
	require.True(t, eff.Equal(dec("1")))

	rate, err := store.GetRate("USD", "PEN")
	require.NoError(t, err)
	require.True(t, rate.Equal(dec("3.75")))
}

func TestSetBaseCurrencyLeavesExplicitDocument(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SetDocumentCurrency("EUR"))
	require.NoError(t, store.SetBaseCurrency("USD"))
	require.Equal(t, "EUR", store.Document())
}

func TestMutationsNotifySubscribers(t *testing.T) {
	store := newStore(t)
	var seen []currency.Snapshot
	unsubscribe := store.Subscribe(func(s currency.Snapshot) {
		seen = append(seen, s)
	})

	require.NoError(t, store.UpdateCurrency(currency.Descriptor{Code: "GBP", Rate: dec("4.7"), Precision: 2, Symbol: "£", Active: true}))
	require.NoError(t, store.SetDocumentCurrency("GBP"))
	require.Len(t, seen, 2)
	require.Equal(t, "GBP", seen[1].Document)
	require.Equal(t, store.Version(), seen[1].Version)
	_, ok := seen[0].Descriptor("GBP")
	require.True(t, ok)

	unsubscribe()
	require.NoError(t, store.SetDocumentCurrency("PEN"))
	require.Len(t, seen, 2)
}

func TestFailedMutationDoesNotNotify(t *testing.T) {
	store := newStore(t)
	calls := 0
	store.Subscribe(func(currency.Snapshot) { calls++ })
	before := store.Version()

	err := store.UpdateCurrency(currency.Descriptor{Code: "PEN", Rate: dec("1"), Precision: 2, Active: false})
	require.ErrorIs(t, err, currency.ErrBaseCurrency)
	require.ErrorIs(t, store.SetDocumentCurrency("XXX"), currency.ErrUnknownCurrency)
	require.ErrorIs(t, store.RemoveCurrency("PEN"), currency.ErrBaseCurrency)

	require.Zero(t, calls)
	require.Equal(t, before, store.Version())
}

func TestRemoveCurrency(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.RemoveCurrency("JPY"))
	_, ok := store.Descriptor("JPY")
	require.False(t, ok)
	require.Len(t, store.Currencies(), 3)
	require.Equal(t, "PEN", store.Currencies()[0].Code)
}

func TestCrossRatesStayExactAfterRebase(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SetBaseCurrency("EUR"))

	cases := []struct {
		from, to string
		want     string
	}{
		{from: "USD", to: "PEN", want: "3.75"},
		{from: "USD", to: "JPY", want: "150"},
		{from: "JPY", to: "EUR", want: "0.00625"},
		{from: "EUR", to: "PEN", want: "4"},
		{from: "pen", to: "PEN", want: "1"},
	}
	for _, tc := range cases {
		rate, err := store.GetRate(tc.from, tc.to)
		require.NoError(t, err)
		require.True(t, rate.Equal(dec(tc.want)), "%s->%s: got %s", tc.from, tc.to, rate)
	}

	amount, err := store.Convert(dec("10"), "USD", "PEN", nil)
	require.NoError(t, err)
	require.Equal(t, "37.50", amount.StringFixed(2))

	_, err = store.GetRate("USD", "XXX")
	require.ErrorIs(t, err, currency.ErrUnknownCurrency)
}
