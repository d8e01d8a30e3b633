package pricebook

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Column is a named pricing list such as retail or wholesale.
type Column struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Base  bool   `json:"base"`
}

// Product holds the prices recorded for one SKU, keyed by column id then unit code.
type Product struct {
	SKU         string                      `json:"sku"`
	DefaultUnit string                      `json:"defaultUnit"`
	Prices      map[string]map[string]Price `json:"prices"`
}

// Price returns the entry recorded for column × unit.
func (p Product) Price(columnID, unit string) (Price, bool) {
	units, ok := p.Prices[columnID]
	if !ok {
		return Price{}, false
	}
	price, ok := units[unit]
	return price, ok
}

// Book is a read-only snapshot of the price book.
type Book struct {
	Columns  []Column           `json:"columns"`
	Products map[string]Product `json:"products"`
}

// NewBook indexes products by normalised SKU.
func NewBook(columns []Column, products []Product) Book {
	b := Book{Columns: columns, Products: make(map[string]Product, len(products))}
	for _, p := range products {
		b.Products[NormalizeSKU(p.SKU)] = p
	}
	return b
}

// BaseColumn returns the column flagged as base, or the first column when none is flagged.
func (b Book) BaseColumn() (Column, bool) {
	for _, c := range b.Columns {
		if c.Base {
			return c, true
		}
	}
	if len(b.Columns) > 0 {
		return b.Columns[0], true
	}
	return Column{}, false
}

// Column looks up a column by id.
func (b Book) Column(id string) (Column, bool) {
	id = strings.TrimSpace(id)
	for _, c := range b.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Product looks up a price-book product by SKU.
func (b Book) Product(sku string) (Product, bool) {
	p, ok := b.Products[NormalizeSKU(sku)]
	return p, ok
}

// NormalizeSKU trims and upper-cases a SKU for lookups.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// UnitConversion relates an additional unit to the product base unit.
type UnitConversion struct {
	Unit   string          `json:"unit"`
	Factor decimal.Decimal `json:"factor"`
}

// CatalogProduct is the read-only catalog record used to derive missing unit prices.
type CatalogProduct struct {
	SKU      string           `json:"sku"`
	BaseUnit string           `json:"baseUnit"`
	Units    []UnitConversion `json:"units"`
}

// Catalog indexes catalog products by SKU.
type Catalog map[string]CatalogProduct

// NewCatalog builds a catalog index.
func NewCatalog(products []CatalogProduct) Catalog {
	c := make(Catalog, len(products))
	for _, p := range products {
		c[NormalizeSKU(p.SKU)] = p
	}
	return c
}

// Product looks up a catalog product by SKU.
func (c Catalog) Product(sku string) (CatalogProduct, bool) {
	p, ok := c[NormalizeSKU(sku)]
	return p, ok
}

// Factor returns how many base units one unit of the requested unit holds. The base unit itself
// has factor 1. Units are compared after normalisation through dict.
func (c Catalog) Factor(sku, unit string, dict UnitDictionary) (decimal.Decimal, bool) {
	p, ok := c.Product(sku)
	if !ok {
		return decimal.Zero, false
	}
	unit = dict.Normalize(unit)
	if unit == "" {
		return decimal.Zero, false
	}
	if dict.Normalize(p.BaseUnit) == unit {
		return decimal.NewFromInt(1), true
	}
	for _, conv := range p.Units {
		if dict.Normalize(conv.Unit) != unit {
			continue
		}
		if !conv.Factor.IsPositive() {
			return decimal.Zero, false
		}
		return conv.Factor, true
	}
	return decimal.Zero, false
}
