package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/pricebook"
	"github.com/noah-isme/pos-settlement/internal/settlement"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

// ErrInvalidRow is returned when stored data cannot be mapped onto the domain model.
var ErrInvalidRow = errors.New("store: invalid row")

// Querier is the subset of pgxpool.Pool the loader needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Loader reads the price book, catalog, units, tax rules and currencies from Postgres.
type Loader struct {
	DB Querier
}

const (
	currenciesSQL = `SELECT code, name, rate::text, "precision", symbol, "position", active, is_base
		FROM currencies ORDER BY code`
	columnsSQL     = `SELECT id, label, is_base FROM price_columns ORDER BY sort_order, id`
	unitsSQL       = `SELECT code, name, symbol FROM units ORDER BY code`
	productsSQL    = `SELECT sku, base_unit, default_unit FROM products ORDER BY sku`
	conversionsSQL = `SELECT sku, unit, factor::text FROM product_units ORDER BY sku, unit`
	pricesSQL      = `SELECT sku, column_id, unit, kind, value::text, valid_from, valid_until
		FROM prices ORDER BY sku, column_id, unit`
	tiersSQL = `SELECT sku, column_id, unit, min_quantity::text, price::text
		FROM price_tiers ORDER BY sku, column_id, unit, min_quantity`
	taxRulesSQL = `SELECT id, name, category, rate::text, prices_include_tax, active, is_default
		FROM tax_rules ORDER BY sort_order, id`
)

type currencyRow struct {
	Code      string
	Name      string
	Rate      string
	Precision int16
	Symbol    string
	Position  string
	Active    bool
	Base      bool
}

type columnRow struct {
	ID    string
	Label string
	Base  bool
}

type unitRow struct {
	Code   string
	Name   string
	Symbol string
}

type productRow struct {
	SKU         string
	BaseUnit    string
	DefaultUnit string
}

type conversionRow struct {
	SKU    string
	Unit   string
	Factor string
}

type priceRow struct {
	SKU        string
	ColumnID   string
	Unit       string
	Kind       string
	Value      string
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

type tierRow struct {
	SKU         string
	ColumnID    string
	Unit        string
	MinQuantity string
	Price       string
}

type taxRuleRow struct {
	ID               string
	Name             string
	Category         string
	Rate             string
	PricesIncludeTax bool
	Active           bool
	Default          bool
}

// tables groups every table read by the loader.
type tables struct {
	currencies  []currencyRow
	columns     []columnRow
	units       []unitRow
	products    []productRow
	conversions []conversionRow
	prices      []priceRow
	tiers       []tierRow
	taxRules    []taxRuleRow
}

// Load reads a consistent snapshot. The returned snapshot has no revision; the settlement service
// assigns one when it is published.
func (l Loader) Load(ctx context.Context) (settlement.Snapshot, []currency.Descriptor, error) {
	if l.DB == nil {
		return settlement.Snapshot{}, nil, errors.New("store: database not configured")
	}
	var rows tables
	var err error
	if rows.currencies, err = collect[currencyRow](ctx, l.DB, currenciesSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load currencies: %w", err)
	}
	if rows.columns, err = collect[columnRow](ctx, l.DB, columnsSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load price columns: %w", err)
	}
	if rows.units, err = collect[unitRow](ctx, l.DB, unitsSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load units: %w", err)
	}
	if rows.products, err = collect[productRow](ctx, l.DB, productsSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load products: %w", err)
	}
	if rows.conversions, err = collect[conversionRow](ctx, l.DB, conversionsSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load unit conversions: %w", err)
	}
	if rows.prices, err = collect[priceRow](ctx, l.DB, pricesSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load prices: %w", err)
	}
	if rows.tiers, err = collect[tierRow](ctx, l.DB, tiersSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load price tiers: %w", err)
	}
	if rows.taxRules, err = collect[taxRuleRow](ctx, l.DB, taxRulesSQL); err != nil {
		return settlement.Snapshot{}, nil, fmt.Errorf("load tax rules: %w", err)
	}

	descs, err := buildCurrencies(rows.currencies)
	if err != nil {
		return settlement.Snapshot{}, nil, err
	}
	snap, err := buildSnapshot(rows)
	if err != nil {
		return settlement.Snapshot{}, nil, err
	}
	return snap, descs, nil
}

func collect[T any](ctx context.Context, db Querier, sql string) ([]T, error) {
	rows, err := db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[T])
}

func buildCurrencies(rows []currencyRow) ([]currency.Descriptor, error) {
	out := make([]currency.Descriptor, 0, len(rows))
	for _, row := range rows {
		rate, err := parseDecimal("currency "+row.Code+" rate", row.Rate)
		if err != nil {
			return nil, err
		}
		out = append(out, currency.Descriptor{
			Code:      row.Code,
			Name:      row.Name,
			Rate:      rate,
			Precision: int32(row.Precision),
			Symbol:    row.Symbol,
			Position:  currency.SymbolPosition(strings.ToLower(row.Position)),
			Active:    row.Active,
			Base:      row.Base,
		})
	}
	return out, nil
}

func buildSnapshot(rows tables) (settlement.Snapshot, error) {
	columns := make([]pricebook.Column, 0, len(rows.columns))
	for _, row := range rows.columns {
		columns = append(columns, pricebook.Column{ID: row.ID, Label: row.Label, Base: row.Base})
	}

	units := make([]pricebook.Unit, 0, len(rows.units))
	for _, row := range rows.units {
		units = append(units, pricebook.Unit{Code: row.Code, Name: row.Name, Symbol: row.Symbol})
	}

	tiers := make(map[string][]pricebook.Tier)
	for _, row := range rows.tiers {
		minQty, err := parseDecimal("tier minimum", row.MinQuantity)
		if err != nil {
			return settlement.Snapshot{}, err
		}
		price, err := parseDecimal("tier price", row.Price)
		if err != nil {
			return settlement.Snapshot{}, err
		}
		key := priceKey(row.SKU, row.ColumnID, row.Unit)
		tiers[key] = append(tiers[key], pricebook.Tier{MinQuantity: minQty, Price: price})
	}

	products := make(map[string]*pricebook.Product, len(rows.products))
	catalog := make(map[string]*pricebook.CatalogProduct, len(rows.products))
	order := make([]string, 0, len(rows.products))
	for _, row := range rows.products {
		sku := pricebook.NormalizeSKU(row.SKU)
		products[sku] = &pricebook.Product{
			SKU:         sku,
			DefaultUnit: row.DefaultUnit,
			Prices:      make(map[string]map[string]pricebook.Price),
		}
		catalog[sku] = &pricebook.CatalogProduct{SKU: sku, BaseUnit: row.BaseUnit}
		order = append(order, sku)
	}

	for _, row := range rows.conversions {
		cp, ok := catalog[pricebook.NormalizeSKU(row.SKU)]
		if !ok {
			continue
		}
		factor, err := parseDecimal("unit factor", row.Factor)
		if err != nil {
			return settlement.Snapshot{}, err
		}
		cp.Units = append(cp.Units, pricebook.UnitConversion{Unit: row.Unit, Factor: factor})
	}

	for _, row := range rows.prices {
		p, ok := products[pricebook.NormalizeSKU(row.SKU)]
		if !ok {
			continue
		}
		price := pricebook.Price{
			Kind:       pricebook.PriceKind(strings.ToLower(row.Kind)),
			ValidFrom:  row.ValidFrom,
			ValidUntil: row.ValidUntil,
		}
		switch price.Kind {
		case pricebook.KindVolume:
			price.Tiers = tiers[priceKey(row.SKU, row.ColumnID, row.Unit)]
			sort.SliceStable(price.Tiers, func(i, j int) bool {
				return price.Tiers[i].MinQuantity.LessThan(price.Tiers[j].MinQuantity)
			})
		case pricebook.KindFixed, "":
			price.Kind = pricebook.KindFixed
			value, err := parseDecimal("price value", row.Value)
			if err != nil {
				return settlement.Snapshot{}, err
			}
			price.Value = value
		default:
			return settlement.Snapshot{}, fmt.Errorf("%w: price kind %q for %s", ErrInvalidRow, row.Kind, row.SKU)
		}
		byUnit, ok := p.Prices[row.ColumnID]
		if !ok {
			byUnit = make(map[string]pricebook.Price)
			p.Prices[row.ColumnID] = byUnit
		}
		byUnit[row.Unit] = price
	}

	bookProducts := make([]pricebook.Product, 0, len(order))
	catalogProducts := make([]pricebook.CatalogProduct, 0, len(order))
	for _, sku := range order {
		bookProducts = append(bookProducts, *products[sku])
		catalogProducts = append(catalogProducts, *catalog[sku])
	}

	rules := make([]tax.Rule, 0, len(rows.taxRules))
	for _, row := range rows.taxRules {
		rate, err := parseDecimal("tax rate", row.Rate)
		if err != nil {
			return settlement.Snapshot{}, err
		}
		rules = append(rules, tax.Rule{
			ID:               row.ID,
			Name:             row.Name,
			Category:         row.Category,
			Rate:             rate,
			PricesIncludeTax: row.PricesIncludeTax,
			Active:           row.Active,
			Default:          row.Default,
		})
	}

	return settlement.Snapshot{
		Book:     pricebook.NewBook(columns, bookProducts),
		Catalog:  pricebook.NewCatalog(catalogProducts),
		Units:    pricebook.NewUnitDictionary(units),
		TaxRules: rules,
	}, nil
}

func priceKey(sku, column, unit string) string {
	return pricebook.NormalizeSKU(sku) + "|" + column + "|" + unit
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", ErrInvalidRow, field, value)
	}
	return d, nil
}
