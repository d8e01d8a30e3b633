package pricebook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resolution is the outcome of a unit price lookup. HasPrice=false is a normal result.
type Resolution struct {
	Price            decimal.Decimal `json:"price"`
	HasPrice         bool            `json:"hasPrice"`
	HasExplicitPrice bool            `json:"hasExplicitPrice"`
	UsedUnit         string          `json:"usedUnit"`
	UsedColumn       string          `json:"usedColumn"`
	ColumnLabel      string          `json:"columnLabel,omitempty"`
}

// Resolver resolves unit prices against one price-book and catalog snapshot.
type Resolver struct {
	Book    Book
	Catalog Catalog
	Units   UnitDictionary
	Now     func() time.Time
}

// ResolveUnitPrice resolves the display unit price for sku in unit within the given column.
// An empty or unknown column falls back to the book's base column.
func (r Resolver) ResolveUnitPrice(sku, unit, columnID string) Resolution {
	return r.resolve(sku, unit, columnID, func(p Price, _ decimal.Decimal) (decimal.Decimal, bool) {
		return p.Amount(r.now())
	})
}

// ResolveForQuantity behaves like ResolveUnitPrice but picks volume tiers by quantity. Derived
// prices evaluate base-unit tiers against the quantity expressed in base units.
func (r Resolver) ResolveForQuantity(sku, unit, columnID string, qty decimal.Decimal) Resolution {
	return r.resolve(sku, unit, columnID, func(p Price, factor decimal.Decimal) (decimal.Decimal, bool) {
		return p.AmountForQuantity(r.now(), qty.Mul(factor))
	})
}

func (r Resolver) resolve(sku, unit, columnID string, amount func(Price, decimal.Decimal) (decimal.Decimal, bool)) Resolution {
	res := Resolution{UsedUnit: r.Units.Normalize(unit)}

	column, ok := r.Book.Column(columnID)
	if !ok {
		column, ok = r.Book.BaseColumn()
	}
	if ok {
		res.UsedColumn = column.ID
		res.ColumnLabel = column.Label
	}

	product, found := r.Book.Product(sku)
	if res.UsedUnit == "" {
		res.UsedUnit = r.defaultUnit(sku, product)
	}
	if !ok || !found || res.UsedUnit == "" {
		return res
	}

	if price, exists := r.lookup(product, column.ID, res.UsedUnit); exists {
		if value, valid := amount(price, decimal.NewFromInt(1)); valid {
			res.Price = value
			res.HasPrice = true
			res.HasExplicitPrice = true
			return res
		}
	}

	catalogProduct, inCatalog := r.Catalog.Product(sku)
	if !inCatalog {
		return res
	}
	factor, hasFactor := r.Catalog.Factor(sku, res.UsedUnit, r.Units)
	if !hasFactor {
		return res
	}
	basePrice, exists := r.lookup(product, column.ID, r.Units.Normalize(catalogProduct.BaseUnit))
	if !exists {
		return res
	}
	value, valid := amount(basePrice, factor)
	if !valid {
		return res
	}
	res.Price = value.Mul(factor)
	res.HasPrice = true
	return res
}

// lookup finds the price entry for unit, accepting book keys written as any unit alias.
func (r Resolver) lookup(product Product, columnID, unit string) (Price, bool) {
	if price, ok := product.Price(columnID, unit); ok {
		return price, true
	}
	for key, price := range product.Prices[columnID] {
		if r.Units.Normalize(key) == unit {
			return price, true
		}
	}
	return Price{}, false
}

func (r Resolver) defaultUnit(sku string, product Product) string {
	if product.DefaultUnit != "" {
		return r.Units.Normalize(product.DefaultUnit)
	}
	if cp, ok := r.Catalog.Product(sku); ok {
		return r.Units.Normalize(cp.BaseUnit)
	}
	return ""
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
