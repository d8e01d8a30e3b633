package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/pricebook"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

// ErrNotFound indicates the requested cart item could not be located.
var ErrNotFound = errors.New("cart item not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// PriceSource records which price column produced the current unit price.
type PriceSource struct {
	ColumnID    string `json:"columnId"`
	ColumnLabel string `json:"columnLabel"`
	Explicit    bool   `json:"explicit"`
	Missing     bool   `json:"missing"`
}

// Item is one cart line.
type Item struct {
	ID              uuid.UUID       `json:"id"`
	SKU             string          `json:"sku"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	ManualPrice     bool            `json:"manualPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Tax             *tax.Treatment  `json:"tax,omitempty"`
	Source          PriceSource     `json:"source"`
}

// NewItem describes a line to add.
type NewItem struct {
	SKU             string
	Quantity        decimal.Decimal
	Unit            string
	DiscountPercent decimal.Decimal
	Tax             *tax.Treatment
	// Price, when set, creates a manually priced line that is never merged.
	Price *decimal.Decimal
}

// Cart is an in-memory cart owned by a single settlement session. It is not safe for concurrent use.
type Cart struct {
	items    []Item
	revision uint64
	NewID    func() uuid.UUID
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

func (c *Cart) newID() uuid.UUID {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.New()
}

// Revision increases on every mutation.
func (c *Cart) Revision() uint64 {
	if c == nil {
		return 0
	}
	return c.revision
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []Item {
	if c == nil {
		return nil
	}
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns a copy of one line.
func (c *Cart) Get(id uuid.UUID) (Item, error) {
	i, err := c.index(id)
	if err != nil {
		return Item{}, err
	}
	return c.items[i], nil
}

// Add inserts a new line, or increments the quantity of an existing line with the same SKU and
// unit whose price was not set manually. The returned flag reports whether a line was created.
func (c *Cart) Add(in NewItem) (Item, bool, error) {
	if c == nil {
		return Item{}, false, errors.New("cart not configured")
	}
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return Item{}, false, fmt.Errorf("sku required: %w", ErrInvalidInput)
	}
	if !in.Quantity.IsPositive() {
		return Item{}, false, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if in.Price != nil && in.Price.IsNegative() {
		return Item{}, false, fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	unit := strings.TrimSpace(in.Unit)
	for i := range c.items {
		if in.Price != nil {
			break
		}
		existing := &c.items[i]
		if existing.ManualPrice || !strings.EqualFold(existing.SKU, sku) || !strings.EqualFold(existing.Unit, unit) {
			continue
		}
		existing.Quantity = existing.Quantity.Add(in.Quantity)
		c.revision++
		return *existing, false, nil
	}
	item := Item{
		ID:              c.newID(),
		SKU:             sku,
		Quantity:        in.Quantity,
		Unit:            unit,
		UnitPrice:       decimal.Zero,
		DiscountPercent: in.DiscountPercent,
		Tax:             in.Tax,
	}
	if in.Price != nil {
		item.UnitPrice = *in.Price
		item.ManualPrice = true
	}
	c.items = append(c.items, item)
	c.revision++
	return item, true, nil
}

// UpdateQuantity replaces the quantity of a line.
func (c *Cart) UpdateQuantity(id uuid.UUID, qty decimal.Decimal) (Item, error) {
	if !qty.IsPositive() {
		return Item{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	return c.update(id, func(it *Item) error {
		it.Quantity = qty
		return nil
	})
}

// SetUnit changes the unit of a line and clears the manual price flag so it can be re-priced.
func (c *Cart) SetUnit(id uuid.UUID, unit string) (Item, error) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return Item{}, fmt.Errorf("unit required: %w", ErrInvalidInput)
	}
	return c.update(id, func(it *Item) error {
		it.Unit = unit
		it.ManualPrice = false
		return nil
	})
}

// SetPrice overrides the unit price of a line and marks it as manual.
func (c *Cart) SetPrice(id uuid.UUID, price decimal.Decimal) (Item, error) {
	if price.IsNegative() {
		return Item{}, fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	return c.update(id, func(it *Item) error {
		it.UnitPrice = price
		it.ManualPrice = true
		it.Source.Missing = false
		return nil
	})
}

// SetDiscountPercent sets the per-line discount.
func (c *Cart) SetDiscountPercent(id uuid.UUID, percent decimal.Decimal) (Item, error) {
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return Item{}, fmt.Errorf("discount must be between 0 and 100: %w", ErrInvalidInput)
	}
	return c.update(id, func(it *Item) error {
		it.DiscountPercent = percent
		return nil
	})
}

// SetTax overrides the tax treatment of a line. A nil treatment restores the default.
func (c *Cart) SetTax(id uuid.UUID, treatment *tax.Treatment) (Item, error) {
	return c.update(id, func(it *Item) error {
		it.Tax = treatment
		return nil
	})
}

// ApplyResolution stores a price lookup on a line. Unresolved lookups keep the current price and
// flag the line as missing a price.
func (c *Cart) ApplyResolution(id uuid.UUID, res pricebook.Resolution) (Item, error) {
	return c.update(id, func(it *Item) error {
		if res.UsedUnit != "" {
			it.Unit = res.UsedUnit
		}
		it.Source = PriceSource{
			ColumnID:    res.UsedColumn,
			ColumnLabel: res.ColumnLabel,
			Explicit:    res.HasExplicitPrice,
			Missing:     !res.HasPrice,
		}
		if res.HasPrice {
			it.UnitPrice = res.Price
			it.ManualPrice = false
		}
		return nil
	})
}

// Remove deletes a line.
func (c *Cart) Remove(id uuid.UUID) error {
	i, err := c.index(id)
	if err != nil {
		return err
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.revision++
	return nil
}

// Clear removes every line.
func (c *Cart) Clear() {
	if c == nil {
		return
	}
	c.items = nil
	c.revision++
}

func (c *Cart) update(id uuid.UUID, apply func(*Item) error) (Item, error) {
	i, err := c.index(id)
	if err != nil {
		return Item{}, err
	}
	next := c.items[i]
	if err := apply(&next); err != nil {
		return Item{}, err
	}
	c.items[i] = next
	c.revision++
	return next, nil
}

func (c *Cart) index(id uuid.UUID) (int, error) {
	if c == nil {
		return -1, ErrNotFound
	}
	for i := range c.items {
		if c.items[i].ID == id {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

// ParseID parses a cart item identifier.
func ParseID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse item id: %w", ErrInvalidInput)
	}
	return id, nil
}
