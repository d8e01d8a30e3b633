package settlement_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/preference"
	"github.com/noah-isme/pos-settlement/internal/pricebook"
	"github.com/noah-isme/pos-settlement/internal/settlement"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, got.Equal(dec(want)), "want %s, got %s", want, got.String())
}

var igv = tax.Rule{
	ID:               "igv",
	Name:             "IGV",
	Category:         tax.CategorySales,
	Rate:             decimal.RequireFromString("0.18"),
	PricesIncludeTax: false,
	Active:           true,
	Default:          true,
}

func newCurrencyStore(t *testing.T) *currency.Store {
	t.Helper()
	store, err := currency.NewStore([]currency.Descriptor{
		{Code: "PEN", Rate: dec("1"), Precision: 2, Symbol: "S/", Active: true, Base: true},
		{Code: "USD", Rate: dec("3.75"), Precision: 2, Symbol: "$", Active: true},
	}, "", "")
	require.NoError(t, err)
	return store
}

func fixed(v string) pricebook.Price {
	return pricebook.Fixed(dec(v))
}

func newSnapshot(rules ...tax.Rule) settlement.Snapshot {
	units := pricebook.NewUnitDictionary([]pricebook.Unit{
		{Code: "NIU", Name: "unidad", Symbol: "und"},
		{Code: "CAJA", Name: "caja", Symbol: "cj"},
	})
	book := pricebook.NewBook([]pricebook.Column{
		{ID: "retail", Label: "Retail", Base: true},
		{ID: "wholesale", Label: "Wholesale"},
	}, []pricebook.Product{
		{SKU: "ABC", DefaultUnit: "NIU", Prices: map[string]map[string]pricebook.Price{
			"retail":    {"NIU": fixed("10.00")},
			"wholesale": {"NIU": fixed("8.00")},
		}},
		{SKU: "P100", DefaultUnit: "NIU", Prices: map[string]map[string]pricebook.Price{"retail": {"NIU": fixed("100")}}},
		{SKU: "P300", DefaultUnit: "NIU", Prices: map[string]map[string]pricebook.Price{"retail": {"NIU": fixed("300")}}},
		{SKU: "P118", DefaultUnit: "NIU", Prices: map[string]map[string]pricebook.Price{"retail": {"NIU": fixed("118")}}},
		{SKU: "VOL", DefaultUnit: "NIU", Prices: map[string]map[string]pricebook.Price{"retail": {"NIU": pricebook.Volume(
			pricebook.Tier{MinQuantity: dec("1"), Price: dec("5")},
			pricebook.Tier{MinQuantity: dec("10"), Price: dec("4")},
		)}}},
	})
	catalog := pricebook.NewCatalog([]pricebook.CatalogProduct{
		{SKU: "ABC", BaseUnit: "NIU", Units: []pricebook.UnitConversion{{Unit: "CAJA", Factor: dec("12")}}},
	})
	return settlement.Snapshot{Book: book, Catalog: catalog, Units: units, TaxRules: rules}
}

type recorder struct {
	reports []settlement.MissingPrice
}

func (r *recorder) NotifyMissingPrice(m settlement.MissingPrice) {
	r.reports = append(r.reports, m)
}

type sessionOpts struct {
	snapshot settlement.Snapshot
	store    *currency.Store
	prefs    preference.Store
	notifier settlement.Notifier
	tiers    bool
}

func newSession(t *testing.T, opts sessionOpts) *settlement.Session {
	t.Helper()
	if opts.store == nil {
		opts.store = newCurrencyStore(t)
	}
	s, err := settlement.NewSession(context.Background(), settlement.Config{
		Terminal:      "T1",
		Currency:      opts.store,
		Snapshot:      opts.snapshot,
		Preferences:   opts.prefs,
		Notifier:      opts.notifier,
		Logger:        zerolog.Nop(),
		QuantityTiers: opts.tiers,
	})
	require.NoError(t, err)
	return s
}
